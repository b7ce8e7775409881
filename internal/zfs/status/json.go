package status

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// wire structures for `zpool status -j -P`.
type jsonStatus struct {
	Pools map[string]jsonPool `json:"pools"`
}

type jsonPool struct {
	Name       string              `json:"name"`
	State      string              `json:"state"`
	ScanStats  json.RawMessage     `json:"scan_stats"`
	ErrorCount string              `json:"error_count"`
	Vdevs      map[string]jsonVdev `json:"vdevs"`
}

type jsonVdev struct {
	Name           string              `json:"name"`
	VdevType       string              `json:"vdev_type"`
	State          string              `json:"state"`
	ReadErrors     string              `json:"read_errors"`
	WriteErrors    string              `json:"write_errors"`
	ChecksumErrors string              `json:"checksum_errors"`
	Path           string              `json:"path"`
	Vdevs          map[string]jsonVdev `json:"vdevs"`
}

// ParseJSON parses `zpool status -j -P` output. poolName, when non-empty,
// restricts the report to that pool.
func ParseJSON(raw string, poolName string) (*Report, error) {
	var decoded jsonStatus
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, errors.Wrap(err, "decoding zpool status JSON")
	}

	report := NewReport()
	for name, pool := range decoded.Pools {
		if poolName != "" && name != poolName {
			continue
		}
		ps := &PoolStatus{
			Name:     orDefault(pool.Name, name),
			State:    orDefault(pool.State, "UNKNOWN"),
			Errors:   orDefault(pool.ErrorCount, "0"),
			VdevTree: parseVdevMap(pool.Vdevs),
		}
		if len(pool.ScanStats) > 0 {
			var scan interface{}
			if err := json.Unmarshal(pool.ScanStats, &scan); err == nil {
				ps.Scan = scan
			}
		}
		report.Pools[name] = ps
	}
	return report, nil
}

// parseVdevMap converts the recursive vdevs mapping. The root map normally
// holds a single entry named after the pool; multiple top-level entries get
// a synthetic root.
func parseVdevMap(vdevs map[string]jsonVdev) *VdevNode {
	if len(vdevs) == 0 {
		return nil
	}
	if len(vdevs) == 1 {
		for _, v := range vdevs {
			return parseVdev(v)
		}
	}
	root := &VdevNode{Name: "root", Type: "root", State: "ONLINE"}
	for _, key := range sortedKeys(vdevs) {
		root.Children = append(root.Children, parseVdev(vdevs[key]))
	}
	return root
}

func parseVdev(v jsonVdev) *VdevNode {
	node := &VdevNode{
		Name:           orDefault(v.Name, "unknown"),
		Type:           orDefault(v.VdevType, "unknown"),
		State:          orDefault(v.State, "UNKNOWN"),
		ReadErrors:     orDefault(v.ReadErrors, "0"),
		WriteErrors:    orDefault(v.WriteErrors, "0"),
		ChecksumErrors: orDefault(v.ChecksumErrors, "0"),
		Children:       []*VdevNode{},
	}
	if len(v.Vdevs) == 0 {
		node.Path = v.Path
		return node
	}
	for _, key := range sortedKeys(v.Vdevs) {
		node.Children = append(node.Children, parseVdev(v.Vdevs[key]))
	}
	return node
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
