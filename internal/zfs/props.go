package zfs

// Column lists for scripted (-H) listings. Order matters: values are
// tab-split and zipped against these names.

// ZpoolProps are the `zpool list -o` columns.
var ZpoolProps = []string{
	"name", "size", "alloc", "free", "frag", "cap", "dedup", "health", "guid",
	"altroot", "bootfs", "cachefile", "comment", "failmode", "listsnapshots",
	"version", "readonly", "feature@encryption", "autotrim", "autoexpand", "autoreplace",
}

// DatasetProps are the `zfs list -t filesystem,volume -o` columns.
var DatasetProps = []string{
	"name", "type", "used", "available", "referenced", "mountpoint", "quota", "reservation",
	"recordsize", "compression", "compressratio", "atime", "relatime", "readonly", "volsize",
	"volblocksize", "dedup", "encryption", "keystatus", "keyformat", "keylocation", "pbkdf2iters",
	"mounted", "origin", "creation", "logicalused", "logicalreferenced", "sync",
}

// SnapshotProps are the `zfs list -t snapshot -o` columns.
var SnapshotProps = []string{
	"name", "used", "referenced", "creation", "defer_destroy", "userrefs",
	"logicalused", "logicalreferenced",
}
