// Package state persists process status snapshots.
//
// Each gracehost process can record a Status (pid, role, phase, loaded
// modules, timestamps) in a JSON file so that operators and the CLI can
// inspect a running cluster without talking to it.
//
// # Usage
//
//	repo := state.NewFileRepository("/var/run/app", state.FileName("master"))
//
//	s, err := repo.Load(ctx)
//	if err != nil {
//	    return err
//	}
//	s.Phase = "Ready"
//	if err := repo.Save(ctx, s); err != nil {
//	    return err
//	}
//
// Files are written atomically (temp file, then rename), so readers never
// see a partial snapshot.
package state
