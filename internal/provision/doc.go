// Package provision builds a Xen guest from a resolved configuration.
//
// Run assembles the actions of a provisioning run and hands them to the
// pipeline:
//   - CheckConfig: validates the configuration
//   - CreateStorage: creates and formats every storage unit
//   - InstallGuestOS: mounts the storage, unpacks the stage3 and package
//     tree, personalizes the root and runs the setup script (optional)
//   - WriteDomainConfig: writes the xl configuration (and libvirt XML)
//   - DefineDomain: registers the guest with libvirtd (optional)
//
// Every action is tested before any is executed, so a run that would collide
// with existing storage or domain files fails without touching anything.
//
// Error Handling:
//
// A failed run is not rolled back. Storage that was created stays, and the
// next run refuses to reuse it, so a failed guest must be removed by hand
// before retrying. InstallGuestOS always unmounts everything below its
// working directory and removes the directory, even when it fails.
package provision
