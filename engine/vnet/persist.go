package vnet

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/ztsock/limits"
)

const networksDir = "networks.d"

// networkConf is the on-disk record of one membership.
type networkConf struct {
	ID     string `yaml:"id"`
	Joined bool   `yaml:"joined"`
}

func (e *Engine) networksPath() string {
	if e.store == nil {
		return ""
	}
	return filepath.Join(e.store.Dir(), networksDir)
}

// loadNetworks returns the persisted memberships. Callers hold e.mu.
func (e *Engine) loadNetworks() []uint64 {
	dir := e.networksPath()
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			e.log.WithFields(logrus.Fields{
				"function": "loadNetworks",
				"path":     dir,
				"error":    err.Error(),
			}).Warn("Cannot read networks directory")
		}
		return nil
	}

	var ids []uint64
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".conf") {
			continue
		}
		id, err := readNetworkConf(filepath.Join(dir, name))
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"function": "loadNetworks",
				"file":     name,
				"error":    err.Error(),
			}).Warn("Skipping network file")
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func readNetworkConf(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if err := limits.ValidateConfigFile(data); err != nil {
		return 0, err
	}
	var conf networkConf
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return 0, err
	}
	if !conf.Joined {
		return 0, fmt.Errorf("network %s not joined", conf.ID)
	}
	return strconv.ParseUint(conf.ID, 16, 64)
}

// saveNetwork persists a membership. Callers hold e.mu.
func (e *Engine) saveNetwork(netID uint64) {
	dir := e.networksPath()
	if dir == "" {
		return
	}
	data, err := yaml.Marshal(networkConf{ID: fmt.Sprintf("%016x", netID), Joined: true})
	if err == nil {
		if err = os.MkdirAll(dir, 0o700); err == nil {
			err = os.WriteFile(networkFile(dir, netID), data, 0o600)
		}
	}
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "saveNetwork",
			"net_id":   fmt.Sprintf("%016x", netID),
			"error":    err.Error(),
		}).Warn("Failed to persist network membership")
	}
}

// removeNetwork forgets a persisted membership. Callers hold e.mu.
func (e *Engine) removeNetwork(netID uint64) {
	dir := e.networksPath()
	if dir == "" {
		return
	}
	if err := os.Remove(networkFile(dir, netID)); err != nil && !os.IsNotExist(err) {
		e.log.WithFields(logrus.Fields{
			"function": "removeNetwork",
			"net_id":   fmt.Sprintf("%016x", netID),
			"error":    err.Error(),
		}).Warn("Failed to remove network membership")
	}
}

func networkFile(dir string, netID uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%016x.conf", netID))
}
