package zfs

import (
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/zfs/status"
)

func (m *Manager) listPools(cc CallContext, p Params) (interface{}, error) {
	b, err := Zpool("list")
	if err != nil {
		return nil, err
	}
	b.Script().Parsable().OutputProps(ZpoolProps)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to list pools.", b.Argv(), res.Stderr, res.Code)
	}
	return parseTabular(res.Stdout, ZpoolProps), nil
}

func (m *Manager) getPoolStatus(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("status")
	if err != nil {
		return nil, err
	}
	b.Verbose().Parsable().Target(pool)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to get status for pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// legacyStatusMode probes `zpool --version` once per manager, through the
// manager's own runner. Any probe failure falls back to the text parser,
// which works everywhere.
func (m *Manager) legacyStatusMode(cc CallContext) bool {
	m.statusProbe.Do(func() {
		m.legacyStatus = true
		resolveTools()
		if zpoolPath == "" {
			return
		}
		res := m.runner.Run(cc.Ctx, []string{zpoolPath, "--version"}, runnerOptsQuiet())
		if res.Code == 0 && status.SupportsJSON(res.Stdout) {
			m.legacyStatus = false
		}
	})
	return m.legacyStatus
}

func (m *Manager) getPoolStatusStructure(cc CallContext, p Params) (interface{}, error) {
	pool := p.OptStr(0, "pool_name")

	legacy := m.legacyStatusMode(cc)
	b, err := Zpool("status")
	if err != nil {
		return nil, err
	}
	if !legacy {
		b.flag("-j", true)
	}
	// -P prints full device paths, which both parsers record as leaf paths.
	b.flag("-P", true).Parsable()
	if pool != "" {
		b.Target(pool)
	}
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to get pool status structure: "+strings.TrimSpace(res.Stderr), b.Argv(), res.Stderr, res.Code)
	}

	var report *status.Report
	if legacy {
		report, err = status.ParseText(res.Stdout, pool)
	} else {
		report, err = status.ParseJSON(res.Stdout, pool)
	}
	if err != nil {
		return nil, &ParseError{Message: "Failed to parse pool status output.", Argv: b.Argv()}
	}
	return report, nil
}

func (m *Manager) getPoolListVerbose(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("list")
	if err != nil {
		return nil, err
	}
	b.Verbose().Target(pool)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to get verbose list for pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (m *Manager) getPoolIostatVerbose(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("iostat")
	if err != nil {
		return nil, err
	}
	b.Verbose().Target(pool)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to get iostat for pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// fs properties go through -O on zpool create; pool properties through -o.
var (
	createFsProps = map[string]bool{
		"mountpoint": true, "encryption": true, "keyformat": true, "keylocation": true,
		"pbkdf2iters": true, "compression": true, "atime": true, "relatime": true,
		"readonly": true, "dedup": true, "sync": true, "logbias": true, "recordsize": true,
		"feature@encryption": true, "listsnapshots": true, "version": true,
	}
	createPoolProps = map[string]bool{
		"altroot": true, "cachefile": true, "comment": true, "failmode": true,
	}
)

func (m *Manager) createPool(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	rawSpecs, ok := p.Raw(1, "vdev_specs")
	if !ok {
		return nil, validationErr("missing required argument %q", "vdev_specs")
	}
	specs, err := ValidateVdevSpecs(rawSpecs, "create_pool '"+pool+"'")
	if err != nil {
		return nil, err
	}
	options := p.StrMap(2, "options")
	force := p.Bool(3, "force", false)
	passphrase := p.OptStr(-1, "passphrase")

	b, err := Zpool("create")
	if err != nil {
		return nil, err
	}
	b.Force(force).SetPassphrase(passphrase)

	// keylocation=prompt is implicit when the passphrase arrives on stdin.
	if passphrase != "" && options["keylocation"] == "prompt" && options["keyformat"] == "passphrase" {
		delete(options, "keylocation")
	}
	for _, key := range sortedOptionKeys(options) {
		value := options[key]
		switch {
		case createFsProps[key]:
			b.FsOption(key, value)
		case createPoolProps[key]:
			b.Option(key, value)
		default:
			log.Warnf("zfs: ignoring unknown option %q during pool creation", key)
		}
	}
	b.Target(pool).AddVdevSpecs(specs)

	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to create pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) destroyPool(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("destroy")
	if err != nil {
		return nil, err
	}
	b.Force(true).Target(pool)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to destroy pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

var importKVRe = regexp.MustCompile(`^\s*(\w+):\s*(.*)$`)

func (m *Manager) listImportablePools(cc CallContext, p Params) (interface{}, error) {
	searchDirs := p.StrList(0, "search_dirs")

	b, err := Zpool("import")
	if err != nil {
		return nil, err
	}
	b.SearchDirs(searchDirs)
	res := m.run(cc, b)

	// Bare `zpool import` exits non-zero when nothing is importable.
	if msg := benignMatch("import -l", res.Stderr); res.Code != 0 && msg != "" {
		return []map[string]string{}, nil
	}
	if res.Code != 0 {
		return nil, commandErr("Failed to search for importable pools.", b.Argv(), res.Stderr, res.Code)
	}

	output := strings.TrimSpace(res.Stdout)
	if output == "" {
		return []map[string]string{}, nil
	}

	var pools []map[string]string
	var current map[string]string
	var configLines []string
	flush := func() {
		if current != nil {
			current["config"] = strings.TrimSpace(strings.Join(configLines, "\n"))
			pools = append(pools, current)
		}
	}
	for _, line := range strings.Split(output, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if m := importKVRe.FindStringSubmatch(line); m != nil {
			key, value := m[1], strings.TrimSpace(m[2])
			switch key {
			case "pool":
				flush()
				current = map[string]string{"name": value, "id": "", "state": "", "action": "", "config": ""}
				configLines = nil
			case "id", "state", "action":
				if current != nil {
					current[key] = value
				}
			case "config":
				if current != nil {
					configLines = append(configLines, value)
				}
			}
			continue
		}
		if current != nil && configLines != nil {
			configLines = append(configLines, stripped)
		}
	}
	flush()
	if pools == nil {
		pools = []map[string]string{}
	}
	return pools, nil
}

func (m *Manager) importPool(cc CallContext, p Params) (interface{}, error) {
	nameOrID := p.OptStr(0, "pool_name_or_id")
	newName := p.OptStr(1, "new_name")
	force := p.Bool(2, "force", false)
	searchDirs := p.StrList(3, "search_dirs")

	b, err := Zpool("import")
	if err != nil {
		return nil, err
	}
	b.Force(force).SearchDirs(searchDirs)

	if nameOrID != "" {
		b.Target(nameOrID)
		if newName != "" {
			b.Target(newName)
		}
	} else {
		if newName != "" {
			return nil, validationErr("cannot specify a new name when importing all pools")
		}
		b.ImportAll(true)
	}

	res := m.run(cc, b)
	if res.Code != 0 {
		target := "all pools"
		if nameOrID != "" {
			target = "pool '" + nameOrID + "'"
		}
		return nil, commandErr("Failed to import "+target+".", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) exportPool(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("export")
	if err != nil {
		return nil, err
	}
	b.Force(p.Bool(1, "force", false)).Target(pool)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to export pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) scrubPool(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	stop := p.Bool(1, "stop", false)
	b, err := Zpool("scrub")
	if err != nil {
		return nil, err
	}
	b.StopScrub(stop).Target(pool)
	res := m.run(cc, b)
	if res.Code != 0 {
		action := "start"
		if stop {
			action = "stop"
		}
		return nil, commandErr("Failed to "+action+" scrub for pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) clearPoolErrors(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("clear")
	if err != nil {
		return nil, err
	}
	b.Target(pool)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to clear errors for pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) splitPool(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	newPool, err := p.Str(1, "new_pool_name")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("split")
	if err != nil {
		return nil, err
	}
	if raw, ok := p.Raw(2, "options"); ok {
		if opts, ok := raw.(map[string]interface{}); ok {
			if altroot, ok := opts["altroot"].(string); ok {
				b.AltRoot(altroot)
			}
			if dry, ok := opts["dry_run"].(bool); ok {
				b.DryRun(dry)
			}
			if props, ok := opts["pool_props"].(map[string]interface{}); ok {
				for _, k := range sortedRawKeys(props) {
					if v, ok := props[k].(string); ok {
						b.Option(k, v)
					}
				}
			}
			if props, ok := opts["fs_props"].(map[string]interface{}); ok {
				for _, k := range sortedRawKeys(props) {
					if v, ok := props[k].(string); ok {
						b.FsOption(k, v)
					}
				}
			}
		}
	}
	b.Targets(pool, newPool)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to split pool '"+pool+"' into '"+newPool+"'. Check requirements.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}
