// Package config loads the layered host configuration.
//
// A Store reads an ordered list of files from one directory. The format is
// picked by extension (.toml, .yaml/.yml, .json) and later files are merged
// over earlier ones. Two environment hooks are applied on every load:
//
//   - GRACEHOST_CONF names one more file, merged last.
//   - GRACEHOST_<NAME> replaces every "{$NAME}" placeholder found in string
//     values.
//
// Values are addressed with dotted keys:
//
//	store := config.NewStore("/srv/app/configs", []string{"base.toml", "prod.yaml"})
//	if err := store.Load(); err != nil {
//	    return err
//	}
//	max := store.Int("cluster.max")
//	logSection := store.Section("log")
//
// Watcher reloads a Store when one of its files changes on disk.
package config
