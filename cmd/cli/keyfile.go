package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// ---- config/key store ----

type keyFile struct {
	HostKey string `json:"host_key"`
	User    string `json:"user"`
	Server  string `json:"server"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "syncserver")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "syncserver")
}

func keyPath() string { return filepath.Join(cfgDir(), "hostkey.json") }

func saveKey(kf keyFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(keyPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(kf)
}

func loadKey() (keyFile, error) {
	var kf keyFile
	b, err := os.ReadFile(keyPath())
	if err != nil {
		return kf, err
	}
	if err := json.Unmarshal(b, &kf); err != nil {
		return kf, err
	}
	if kf.HostKey == "" {
		return kf, errors.New("no host key (login required)")
	}
	return kf, nil
}
