// Package storage provides the block and directory storage a guest's
// filesystems live on.
//
// Two kinds are supported:
//   - lvm: a logical volume /dev/{vg}/{name}, created with lvcreate and
//     formatted with mkfs.{fs} or mkswap
//   - filesystem: a plain directory {base_dir}/{name} on the host, bind
//     mounted in place of a block device; formatting is a no-op
//
// Existence Guard:
//
// Exists reports true for an LVM unit whose device node is present, and for
// a directory unit that is present and non-empty. The provisioning pipeline
// refuses to run when any unit exists, so a failed run that left storage
// behind must be cleaned up by hand before re-running.
//
// Example usage:
//
//	unit, err := storage.New(storage.KindLVM, storage.Spec{
//	    Name:        "web01-root",
//	    Size:        size.MustParse("10G"),
//	    Filesystem:  "ext4",
//	    Mount:       "/",
//	    GuestDevice: "/dev/xvda1",
//	    VolumeGroup: "vg0",
//	}, execx.New(log), log)
//	if err != nil {
//	    return err
//	}
//	if err := unit.Create(ctx); err != nil {
//	    return err
//	}
//	if err := unit.Format(ctx); err != nil {
//	    return err
//	}
package storage
