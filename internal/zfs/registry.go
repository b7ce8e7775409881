// Package zfs maps dashboard commands onto zfs/zpool invocations.
package zfs

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/zfdash/zfdash/internal/runner"
)

// Manager owns a Runner and exposes every daemon-dispatchable operation.
// Its state is per-instance; nothing here leaks across managers.
type Manager struct {
	runner runner.Runner

	// one zpool --version probe per manager, against its own runner
	statusProbe  sync.Once
	legacyStatus bool
}

func NewManager(r runner.Runner) *Manager {
	return &Manager{runner: r}
}

// CallContext carries per-request execution metadata from the frame meta.
type CallContext struct {
	Ctx        context.Context
	LogEnabled bool
	UserUID    int
}

// Handler executes one named command with wire-decoded arguments.
type Handler func(m *Manager, cc CallContext, p Params) (interface{}, error)

// Registry maps command names to handlers. The daemon treats any name not
// present here as UnknownCommand.
var Registry = map[string]Handler{
	// Getters
	"list_pools":                      (*Manager).listPools,
	"get_pool_status":                 (*Manager).getPoolStatus,
	"get_pool_status_structure":       (*Manager).getPoolStatusStructure,
	"get_pool_list_verbose":           (*Manager).getPoolListVerbose,
	"get_pool_iostat_verbose":         (*Manager).getPoolIostatVerbose,
	"list_all_datasets_snapshots":     (*Manager).listAllDatasetsSnapshots,
	"get_all_properties_with_sources": (*Manager).getAllPropertiesWithSources,
	"list_importable_pools":           (*Manager).listImportablePools,
	"list_block_devices":              (*Manager).listBlockDevices,
	// Pool actions
	"create_pool":       (*Manager).createPool,
	"destroy_pool":      (*Manager).destroyPool,
	"import_pool":       (*Manager).importPool,
	"export_pool":       (*Manager).exportPool,
	"scrub_pool":        (*Manager).scrubPool,
	"clear_pool_errors": (*Manager).clearPoolErrors,
	"split_pool":        (*Manager).splitPool,
	// Dataset/volume actions
	"create_dataset":           (*Manager).createDataset,
	"destroy_dataset":          (*Manager).destroyDataset,
	"rename_dataset":           (*Manager).renameDataset,
	"set_dataset_property":     (*Manager).setDatasetProperty,
	"inherit_dataset_property": (*Manager).inheritDatasetProperty,
	"set_pool_property":        (*Manager).setPoolProperty,
	"mount_dataset":            (*Manager).mountDataset,
	"unmount_dataset":          (*Manager).unmountDataset,
	"promote_dataset":          (*Manager).promoteDataset,
	// Snapshot actions
	"create_snapshot":   (*Manager).createSnapshot,
	"destroy_snapshot":  (*Manager).destroySnapshot,
	"rollback_snapshot": (*Manager).rollbackSnapshot,
	"clone_snapshot":    (*Manager).cloneSnapshot,
	// Pool editing actions
	"attach_device":  (*Manager).attachDevice,
	"detach_device":  (*Manager).detachDevice,
	"replace_device": (*Manager).replaceDevice,
	"offline_device": (*Manager).offlineDevice,
	"online_device":  (*Manager).onlineDevice,
	"add_vdev":       (*Manager).addVdev,
	"remove_vdev":    (*Manager).removeVdev,
	// Encryption actions
	"load_key":   (*Manager).loadKey,
	"unload_key": (*Manager).unloadKey,
	"change_key": (*Manager).changeKey,
}

// Params provides typed access to the wire's positional args and kwargs.
// JSON decoding hands us interface{} values; numbers arrive as float64.
type Params struct {
	Args   []interface{}
	Kwargs map[string]interface{}
}

func (p Params) lookup(i int, name string) (interface{}, bool) {
	if i >= 0 && i < len(p.Args) {
		return p.Args[i], true
	}
	if v, ok := p.Kwargs[name]; ok {
		return v, true
	}
	return nil, false
}

// Str fetches a required string argument.
func (p Params) Str(i int, name string) (string, error) {
	v, ok := p.lookup(i, name)
	if !ok {
		return "", validationErr("missing required argument %q", name)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", validationErr("argument %q must be a non-empty string", name)
	}
	return s, nil
}

// OptStr fetches an optional string argument, "" when absent or null.
func (p Params) OptStr(i int, name string) string {
	v, ok := p.lookup(i, name)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Bool fetches an optional boolean, def when absent.
func (p Params) Bool(i int, name string, def bool) bool {
	v, ok := p.lookup(i, name)
	if !ok || v == nil {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// StrMap fetches an optional map of string options; non-string values are
// dropped, matching the tolerant option handling of the tool wrappers.
func (p Params) StrMap(i int, name string) map[string]string {
	v, ok := p.lookup(i, name)
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

// StrList fetches an optional list of strings.
func (p Params) StrList(i int, name string) []string {
	v, ok := p.lookup(i, name)
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Raw fetches an argument without conversion.
func (p Params) Raw(i int, name string) (interface{}, bool) {
	return p.lookup(i, name)
}

// runnerOptsQuiet is for internal probes that should never hit audit logs.
func runnerOptsQuiet() runner.Opts { return runner.Opts{UserUID: -1} }

func sortedOptionKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedRawKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// run builds and executes a command line through the runner.
func (m *Manager) run(cc CallContext, b *Builder) runner.Result {
	return m.runner.Run(cc.Ctx, b.Argv(), runner.Opts{
		Stdin:      b.stdinFor(),
		LogEnabled: cc.LogEnabled,
		UserUID:    cc.UserUID,
	})
}

// parseTabular zips tab-separated scripted output against a column list.
// Rows with the wrong column count are skipped; listings should degrade,
// not fail wholesale, on one odd row.
func parseTabular(stdout string, columns []string) []map[string]string {
	var rows []map[string]string
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		values := strings.Split(strings.TrimSpace(line), "\t")
		if len(values) != len(columns) {
			continue
		}
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		rows = append(rows, row)
	}
	return rows
}
