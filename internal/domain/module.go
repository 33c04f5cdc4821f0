package domain

// ModuleDescriptor describes a module registered through Use.
// The loader fills ResolvedPath and Loaded during the Modules phase; the
// descriptor is read-only afterwards.
type ModuleDescriptor struct {
	// Name is the registration name and the key the module is attached under.
	Name string

	// PathOverride is the application-supplied location, relative to the
	// host root. Empty means the default application location.
	PathOverride string

	// ConfigKey is the configuration section handed to ReadConfig.
	ConfigKey string

	// ResolvedPath records which resolver found the module and where.
	ResolvedPath string

	// Loaded is set once ReadConfig and Setup completed.
	Loaded bool
}

// SameSource reports whether two registrations point at the same module.
func (d ModuleDescriptor) SameSource(o ModuleDescriptor) bool {
	return d.Name == o.Name && d.PathOverride == o.PathOverride && d.ConfigKey == o.ConfigKey
}
