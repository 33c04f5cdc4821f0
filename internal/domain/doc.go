// Package domain contains the entities and errors shared by the gracehost
// components.
//
// It has no dependencies on infrastructure (processes, pipes, files,
// logging) and holds only plain data and sentinel errors.
//
// # Entities
//
//   - [ModuleDescriptor]: a module registered through Use
//   - [MeshNode]: a directory entry of the mesh coordinator
//   - [ShutdownTask]: a cleanup action drained at shutdown
package domain
