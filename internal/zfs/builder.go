package zfs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zfdash/zfdash/internal/paths"
)

var (
	toolsOnce sync.Once
	zfsPath   string
	zpoolPath string
)

func resolveTools() {
	toolsOnce.Do(func() {
		zfsPath = paths.FindExecutable("zfs")
		zpoolPath = paths.FindExecutable("zpool")
	})
}

// SetToolPaths overrides executable discovery, for packagers shipping the
// tools at fixed locations and for tests.
func SetToolPaths(zfs, zpool string) {
	toolsOnce.Do(func() {})
	zfsPath, zpoolPath = zfs, zpool
}

// Builder assembles a zfs or zpool argv. Options are appended in call
// order; callers add all options before positional targets.
type Builder struct {
	parts      []string
	passphrase string
	changeInfo string
}

// Zfs starts a `zfs <action>` command line.
func Zfs(action string) (*Builder, error) {
	resolveTools()
	if zfsPath == "" {
		return nil, commandErr("zfs command not found", nil, "", -1)
	}
	return &Builder{parts: []string{zfsPath, action}}, nil
}

// Zpool starts a `zpool <action>` command line.
func Zpool(action string) (*Builder, error) {
	resolveTools()
	if zpoolPath == "" {
		return nil, commandErr("zpool command not found", nil, "", -1)
	}
	return &Builder{parts: []string{zpoolPath, action}}, nil
}

func (b *Builder) flag(flag string, cond bool) *Builder {
	if cond {
		b.parts = append(b.parts, flag)
	}
	return b
}

func (b *Builder) option(flag, value string) *Builder {
	if value != "" {
		b.parts = append(b.parts, flag, value)
	}
	return b
}

func (b *Builder) keyValue(flag, key, value string) *Builder {
	if key != "" {
		b.parts = append(b.parts, flag, key+"="+value)
	}
	return b
}

// Common modifiers. -H is scripted (tab-separated, no header), -p parsable.
func (b *Builder) Recursive(cond bool) *Builder { return b.flag("-r", cond) }
func (b *Builder) Force(cond bool) *Builder     { return b.flag("-f", cond) }
func (b *Builder) Parsable() *Builder           { return b.flag("-p", true) }
func (b *Builder) Script() *Builder             { return b.flag("-H", true) }
func (b *Builder) Verbose() *Builder            { return b.flag("-v", true) }

func (b *Builder) Type(types string) *Builder { return b.option("-t", types) }

func (b *Builder) OutputProps(props []string) *Builder {
	return b.option("-o", strings.Join(props, ","))
}

// Option adds a `-o key=value` property.
func (b *Builder) Option(key, value string) *Builder { return b.keyValue("-o", key, value) }

// FsOption adds a `-O key=value` filesystem property on zpool commands.
func (b *Builder) FsOption(key, value string) *Builder { return b.keyValue("-O", key, value) }

func (b *Builder) VolSize(size string) *Builder       { return b.option("-V", size) }
func (b *Builder) KeyLocation(loc string) *Builder    { return b.option("-L", loc) }
func (b *Builder) LoadKeyFlag(cond bool) *Builder     { return b.flag("-l", cond) }
func (b *Builder) ImportAll(cond bool) *Builder       { return b.flag("-a", cond) }
func (b *Builder) Temporary(cond bool) *Builder       { return b.flag("-t", cond) }
func (b *Builder) Expand(cond bool) *Builder          { return b.flag("-e", cond) }
func (b *Builder) StopScrub(cond bool) *Builder       { return b.flag("-s", cond) }
func (b *Builder) DryRun(cond bool) *Builder          { return b.flag("-n", cond) }
func (b *Builder) AltRoot(path string) *Builder       { return b.option("-R", path) }
func (b *Builder) SearchDir(dir string) *Builder      { return b.option("-d", dir) }

func (b *Builder) SearchDirs(dirs []string) *Builder {
	for _, d := range dirs {
		b.SearchDir(d)
	}
	return b
}

// Target appends a positional argument (dataset, pool, device, name=value).
func (b *Builder) Target(name string) *Builder {
	b.parts = append(b.parts, name)
	return b
}

func (b *Builder) Targets(names ...string) *Builder {
	b.parts = append(b.parts, names...)
	return b
}

// SetPassphrase arranges for the passphrase to reach the child on stdin.
func (b *Builder) SetPassphrase(p string) *Builder {
	b.passphrase = p
	return b
}

// SetPassphraseChange carries change-key stdin material (old/new passphrase).
func (b *Builder) SetPassphraseChange(info string) *Builder {
	b.changeInfo = info
	return b
}

// AddVdevSpecs appends validated vdev groupings: the type word(s) followed
// by the member devices, with plain disks appended bare.
func (b *Builder) AddVdevSpecs(specs []VdevSpec) *Builder {
	for _, spec := range specs {
		if spec.Type != "disk" {
			b.parts = append(b.parts, strings.Fields(spec.Type)...)
		}
		b.parts = append(b.parts, spec.Devices...)
	}
	return b
}

func (b *Builder) Argv() []string { return b.parts }

// stdinFor decides what reaches the child on stdin, mirroring how the zfs
// tools prompt: create/load-key take the passphrase, change-key takes the
// change info, and zpool create only when keyformat=passphrase was requested.
func (b *Builder) stdinFor() string {
	if len(b.parts) < 2 {
		return ""
	}
	action := b.parts[1]
	switch {
	case b.parts[0] == zfsPath:
		if (action == "create" || action == "load-key") && b.passphrase != "" {
			return b.passphrase
		}
		if action == "change-key" && b.changeInfo != "" {
			return b.changeInfo
		}
	case b.parts[0] == zpoolPath:
		if action == "create" && b.passphrase != "" {
			for i, part := range b.parts {
				if part == "-O" && i+1 < len(b.parts) &&
					strings.HasPrefix(b.parts[i+1], "keyformat=passphrase") {
					return b.passphrase
				}
			}
		}
	}
	return ""
}

func (b *Builder) String() string {
	return fmt.Sprintf("%v", b.parts)
}
