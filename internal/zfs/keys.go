package zfs

import "strings"

func (m *Manager) loadKey(cc CallContext, p Params) (interface{}, error) {
	name, err := p.Str(0, "dataset_name")
	if err != nil {
		return nil, err
	}
	b, err := Zfs("load-key")
	if err != nil {
		return nil, err
	}
	b.Recursive(p.Bool(1, "recursive", false))
	b.SetPassphrase(p.OptStr(-1, "passphrase"))
	// -L is only needed for non-prompt key locations.
	if loc := p.OptStr(2, "key_location"); loc != "" && loc != "prompt" {
		b.KeyLocation(loc)
	}
	b.Target(name)

	res := m.run(cc, b)
	if res.Code != 0 {
		if msg := benignMatch("load-key", res.Stderr); msg != "" {
			return msg, nil
		}
		return nil, commandErr("Failed to load key for '"+name+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) unloadKey(cc CallContext, p Params) (interface{}, error) {
	name, err := p.Str(0, "dataset_name")
	if err != nil {
		return nil, err
	}
	b, err := Zfs("unload-key")
	if err != nil {
		return nil, err
	}
	b.Recursive(p.Bool(1, "recursive", false)).Target(name)
	res := m.run(cc, b)
	if res.Code != 0 {
		if msg := benignMatch("unload-key", res.Stderr); msg != "" {
			return msg, nil
		}
		return nil, commandErr("Failed to unload key for '"+name+"'.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}

func (m *Manager) changeKey(cc CallContext, p Params) (interface{}, error) {
	name, err := p.Str(0, "dataset_name")
	if err != nil {
		return nil, err
	}
	b, err := Zfs("change-key")
	if err != nil {
		return nil, err
	}
	b.LoadKeyFlag(p.Bool(1, "load_key_flag", false)).Recursive(p.Bool(2, "recursive", false))

	changeInfo := p.OptStr(-1, "passphrase_change_info")
	b.SetPassphraseChange(changeInfo)

	options := p.StrMap(3, "options")
	if changeInfo != "" {
		// Passphrase change: keyformat must say so, keylocation=prompt is implicit.
		if options == nil {
			options = map[string]string{}
		}
		options["keyformat"] = "passphrase"
		delete(options, "keylocation")
	} else if len(options) > 0 {
		if !strings.HasPrefix(options["keylocation"], "file://") {
			return nil, validationErr("invalid options for keyfile change: 'keylocation' must be a file URI (file:///...)")
		}
		if kf := options["keyformat"]; kf != "raw" && kf != "hex" {
			return nil, validationErr("invalid options for keyfile change: 'keyformat' must be 'raw' or 'hex'")
		}
	}
	for _, key := range sortedOptionKeys(options) {
		switch key {
		case "keyformat", "keylocation", "pbkdf2iters":
			b.Option(key, options[key])
		}
	}
	b.Target(name)

	res := m.run(cc, b)
	if res.Code != 0 {
		return nil, commandErr("Failed to change key for '"+name+"'. Check logs and permissions.", b.Argv(), res.Stderr, res.Code)
	}
	return nil, nil
}
