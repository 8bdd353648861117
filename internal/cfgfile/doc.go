// Package cfgfile edits the plain-text configuration files of a guest root
// in place.
//
// Three shapes are supported:
//   - KeyValue: shell-style KEY="value" files (make.conf, conf.d/*)
//   - Lines: line lists such as locale.gen, hosts and package.use
//   - Fstab: whitespace-separated mount tables
//
// Edits keep unrelated lines, comments and ordering intact. A file that does
// not exist loads empty and is created on Save.
package cfgfile
