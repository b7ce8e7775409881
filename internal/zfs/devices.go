package zfs

func (m *Manager) attachDevice(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	existing, err := p.Str(1, "existing_device")
	if err != nil {
		return nil, err
	}
	newDev, err := p.Str(2, "new_device")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("attach")
	if err != nil {
		return nil, err
	}
	b.Targets(pool, existing, newDev)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to attach '"+newDev+"' to '"+existing+"' in pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) detachDevice(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	device, err := p.Str(1, "device")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("detach")
	if err != nil {
		return nil, err
	}
	b.Targets(pool, device)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to detach '"+device+"' from pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) replaceDevice(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	oldDev, err := p.Str(1, "old_device")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("replace")
	if err != nil {
		return nil, err
	}
	b.Targets(pool, oldDev)
	// Absent new_device asks zpool to pull from a hot spare.
	newDev := p.OptStr(2, "new_device")
	if newDev != "" {
		b.Target(newDev)
	}
	res := m.run(cc, b)
	if res.Code != 0 {
		msg := "Failed to replace '" + oldDev + "'"
		if newDev != "" {
			msg += " with " + newDev
		}
		return nil, commandErr(msg+" in pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) offlineDevice(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	device, err := p.Str(1, "device")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("offline")
	if err != nil {
		return nil, err
	}
	b.Temporary(p.Bool(2, "temporary", false)).Targets(pool, device)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to take '"+device+"' offline in pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) onlineDevice(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	device, err := p.Str(1, "device")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("online")
	if err != nil {
		return nil, err
	}
	b.Expand(p.Bool(2, "expand", false)).Targets(pool, device)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to bring '"+device+"' online in pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) addVdev(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	rawSpecs, ok := p.Raw(1, "vdev_specs")
	if !ok {
		return nil, validationErr("missing required argument %q", "vdev_specs")
	}
	specs, err := ValidateVdevSpecs(rawSpecs, "add_vdev '"+pool+"'")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("add")
	if err != nil {
		return nil, err
	}
	b.Force(p.Bool(2, "force", false)).Target(pool).AddVdevSpecs(specs)
	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to add vdev(s) to pool '"+pool+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) removeVdev(cc CallContext, p Params) (interface{}, error) {
	pool, err := p.Str(0, "pool_name")
	if err != nil {
		return nil, err
	}
	device, err := p.Str(1, "device_or_vdev_id")
	if err != nil {
		return nil, err
	}
	b, err := Zpool("remove")
	if err != nil {
		return nil, err
	}
	b.Targets(pool, device)
	res := m.run(cc, b)
	if res.Code != 0 {
		if msg := benignMatch("remove", res.Stderr); msg != "" {
			return msg, nil
		}
		return nil, commandErr("Failed to remove '"+device+"' from pool '"+pool+"'. Check removal limitations.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}
