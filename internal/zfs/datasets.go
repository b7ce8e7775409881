package zfs

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

func (m *Manager) listAllDatasetsSnapshots(cc CallContext, p Params) (interface{}, error) {
	b, err := Zfs("list")
	if err != nil {
		return nil, err
	}
	b.Script().Recursive(true).OutputProps(DatasetProps).Type("filesystem,volume")
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to list datasets/volumes.", b.Argv(), res.Stderr, res.Code)
	}
	items := parseTabular(res.Stdout, DatasetProps)

	sb, err := Zfs("list")
	if err != nil {
		return nil, err
	}
	sb.Script().Recursive(true).OutputProps(SnapshotProps).Type("snapshot")
	sres := m.run(cc, sb)
	switch {
	case sres.Code == 0:
		for _, snap := range parseTabular(sres.Stdout, SnapshotProps) {
			snap["type"] = "snapshot"
			items = append(items, snap)
		}
	case strings.Contains(strings.ToLower(sres.Stderr), "does not exist"),
		strings.Contains(strings.ToLower(sres.Stderr), "no datasets available"):
		// no snapshots is not an error
	default:
		log.Warnf("zfs: failed to list snapshots: %s", strings.TrimSpace(sres.Stderr))
	}

	if items == nil {
		items = []map[string]string{}
	}
	return items, nil
}

func (m *Manager) getAllPropertiesWithSources(cc CallContext, p Params) (interface{}, error) {
	name, err := p.Str(0, "obj_name")
	if err != nil {
		return nil, err
	}
	properties := map[string]map[string]string{}

	// Pools (no '/' in the name) also carry zpool-level properties.
	if !strings.Contains(name, "/") {
		pb, err := Zpool("get")
		if err != nil {
			return nil, err
		}
		pb.Script().Parsable().OutputProps([]string{"name", "property", "value", "source"}).Targets("all", name)
		res := m.run(cc, pb)
		if res.Code != 0 {
			return nil, commandErr("Failed to get pool properties for '"+name+"'.", pb.Argv(), res.Stderr, res.Code)
		}
		mergePropertyLines(properties, res.Stdout)
	}

	b, err := Zfs("get")
	if err != nil {
		return nil, err
	}
	b.Script().Parsable().OutputProps([]string{"name", "property", "value", "source"}).Targets("all", name)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to get properties for '"+name+"'.", b.Argv(), res.Stderr, res.Code)
	}
	mergePropertyLines(properties, res.Stdout)
	return properties, nil
}

// mergePropertyLines folds `name\tproperty\tvalue\tsource` rows into props.
// Later sources override earlier ones.
func mergePropertyLines(props map[string]map[string]string, stdout string) {
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(strings.TrimSpace(line), "\t", 4)
		if len(fields) != 4 {
			log.Debugf("zfs: skipping malformed property line: %q", line)
			continue
		}
		props[fields[1]] = map[string]string{"value": fields[2], "source": fields[3]}
	}
}

func (m *Manager) createDataset(cc CallContext, p Params) (interface{}, error) {
	name, err := p.Str(0, "full_dataset_name")
	if err != nil {
		return nil, err
	}
	isVolume := p.Bool(1, "is_volume", false)
	volsize := p.OptStr(2, "volsize")
	options := p.StrMap(3, "options")
	passphrase := p.OptStr(-1, "passphrase")

	b, err := Zfs("create")
	if err != nil {
		return nil, err
	}
	b.SetPassphrase(passphrase)

	if isVolume {
		if volsize == "" {
			return nil, validationErr("volume size (-V) is required for creating ZFS volumes")
		}
		b.VolSize(volsize)
	}
	if passphrase != "" && options["keylocation"] == "prompt" && options["keyformat"] == "passphrase" {
		delete(options, "keylocation")
	}
	for _, key := range sortedOptionKeys(options) {
		b.Option(key, options[key])
	}
	b.Target(name)

	res := m.run(cc, b)
	if res.Code != 0 {
		kind := "dataset"
		if isVolume {
			kind = "volume"
		}
		return nil, commandErr("Failed to create "+kind+" '"+name+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) destroyDataset(cc CallContext, p Params) (interface{}, error) {
	name, err := p.Str(0, "full_dataset_name")
	if err != nil {
		return nil, err
	}
	recursive := p.Bool(1, "recursive", false)
	b, err := Zfs("destroy")
	if err != nil {
		return nil, err
	}
	b.Recursive(recursive).Force(recursive).Target(name)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to destroy '"+name+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) renameDataset(cc CallContext, p Params) (interface{}, error) {
	oldName, err := p.Str(0, "old_name")
	if err != nil {
		return nil, err
	}
	newName, err := p.Str(1, "new_name")
	if err != nil {
		return nil, err
	}
	b, err := Zfs("rename")
	if err != nil {
		return nil, err
	}
	b.Recursive(p.Bool(2, "recursive", false)).Force(p.Bool(3, "force_unmount", false)).Targets(oldName, newName)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to rename '"+oldName+"' to '"+newName+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) setDatasetProperty(cc CallContext, p Params) (interface{}, error) {
	name, err := p.Str(0, "full_dataset_name")
	if err != nil {
		return nil, err
	}
	prop, err := p.Str(1, "prop_name")
	if err != nil {
		return nil, err
	}
	if strings.Contains(prop, "=") {
		return nil, validationErr("invalid property name: %q", prop)
	}
	value := p.OptStr(2, "prop_value")

	b, err := Zfs("set")
	if err != nil {
		return nil, err
	}
	b.Targets(prop+"="+value, name)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to set property '"+prop+"' for '"+name+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) inheritDatasetProperty(cc CallContext, p Params) (interface{}, error) {
	name, err := p.Str(0, "full_dataset_name")
	if err != nil {
		return nil, err
	}
	prop, err := p.Str(1, "prop_name")
	if err != nil {
		return nil, err
	}
	b, err := Zfs("inherit")
	if err != nil {
		return nil, err
	}
	b.Targets(prop, name)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to inherit property '"+prop+"' for '"+name+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) setPoolProperty(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	prop, err := p.Str(1, "prop_name")
	if err != nil {
		return nil, err
	}
	if strings.Contains(prop, "=") {
		return nil, validationErr("invalid property name: %q", prop)
	}
	value := p.OptStr(2, "prop_value")

	b, err := Zpool("set")
	if err != nil {
		return nil, err
	}
	b.Targets(prop+"="+value, pool)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to set property '"+prop+"' for pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) mountDataset(cc CallContext, p Params) (interface{}, error) {
	name, err := p.Str(0, "full_dataset_name")
	if err != nil {
		return nil, err
	}
	b, err := Zfs("mount")
	if err != nil {
		return nil, err
	}
	b.Target(name)
	res := m.run(cc, b)
	if res.Code != 0 {
		if msg := benignMatch("mount", res.Stderr); msg != "" {
			return msg, nil
		}
		return nil, commandErr("Failed to mount dataset '"+name+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) unmountDataset(cc CallContext, p Params) (interface{}, error) {
	name, err := p.Str(0, "full_dataset_name")
	if err != nil {
		return nil, err
	}
	b, err := Zfs("unmount")
	if err != nil {
		return nil, err
	}
	b.Target(name)
	res := m.run(cc, b)
	if res.Code != 0 {
		if msg := benignMatch("unmount", res.Stderr); msg != "" {
			return msg, nil
		}
		return nil, commandErr("Failed to unmount dataset '"+name+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) promoteDataset(cc CallContext, p Params) (interface{}, error) {
	name, err := p.Str(0, "full_dataset_name")
	if err != nil {
		return nil, err
	}
	b, err := Zfs("promote")
	if err != nil {
		return nil, err
	}
	b.Target(name)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to promote dataset '"+name+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}
