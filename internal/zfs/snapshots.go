package zfs

import "strings"

func (m *Manager) createSnapshot(cc CallContext, p Params) (interface{}, error) {
	dataset, err := p.Str(0, "full_dataset_name")
	if err != nil {
		return nil, err
	}
	snapName, err := p.Str(1, "snapshot_name")
	if err != nil {
		return nil, err
	}
	if strings.Contains(snapName, "@") {
		return nil, validationErr("snapshot name should not contain '@'")
	}
	full := dataset + "@" + snapName

	b, err := Zfs("snapshot")
	if err != nil {
		return nil, err
	}
	b.Recursive(p.Bool(2, "recursive", false)).Target(full)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to create snapshot '"+full+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) destroySnapshot(cc CallContext, p Params) (interface{}, error) {
	full, err := p.Str(0, "full_snapshot_name")
	if err != nil {
		return nil, err
	}
	if !strings.Contains(full, "@") {
		return nil, validationErr("invalid snapshot name format (missing '@')")
	}
	b, err := Zfs("destroy")
	if err != nil {
		return nil, err
	}
	b.Target(full)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to destroy snapshot '"+full+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) rollbackSnapshot(cc CallContext, p Params) (interface{}, error) {
	full, err := p.Str(0, "full_snapshot_name")
	if err != nil {
		return nil, err
	}
	if !strings.Contains(full, "@") {
		return nil, validationErr("invalid snapshot name format (missing '@')")
	}
	// -r destroys newer snapshots, -f forces unmount during rollback.
	b, err := Zfs("rollback")
	if err != nil {
		return nil, err
	}
	b.Recursive(true).Force(true).Target(full)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to rollback to '"+full+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) cloneSnapshot(cc CallContext, p Params) (interface{}, error) {
	full, err := p.Str(0, "full_snapshot_name")
	if err != nil {
		return nil, err
	}
	if !strings.Contains(full, "@") {
		return nil, validationErr("invalid snapshot name format (missing '@')")
	}
	target, err := p.Str(1, "target_dataset_name")
	if err != nil {
		return nil, err
	}
	b, err := Zfs("clone")
	if err != nil {
		return nil, err
	}
	options := p.StrMap(2, "options")
	for _, key := range sortedOptionKeys(options) {
		b.Option(key, options[key])
	}
	b.Targets(full, target)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to clone snapshot '"+full+"' to '"+target+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}
