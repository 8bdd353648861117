// Package personalize edits a freshly extracted guest root so that it boots
// as the configured guest.
//
// Apply rewrites, in order: locale.gen, fstab, the hostname files, the
// package manager's USE and keyword files, make.conf, the static network
// configuration, resolv.conf (for DNS inside the chroot), the timezone and
// root's authorized_keys. Every path is resolved inside the root, so symlinks
// shipped by the stage archive cannot redirect a write onto the host.
//
// Example usage:
//
//	res, err := personalize.New(cfg, log).Apply("/tmp/kiln-1234")
//	if err != nil {
//	    return err
//	}
//	defer res.Restore()
package personalize
