package session

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type presetEntry struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

type presetFile struct {
	Default presetEntry            `yaml:"default"`
	Users   map[string]presetEntry `yaml:"users"`
}

// LoadPresets reads per-identity persona presets from a YAML file. A
// missing path or missing file yields empty presets so the manager falls
// back to its built-in default; malformed YAML is a configuration error.
func LoadPresets(path string) (map[string]Turn, Turn, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, Turn{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Turn{}, nil
		}
		return nil, Turn{}, fmt.Errorf("read presets: %w", err)
	}

	var file presetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, Turn{}, fmt.Errorf("parse presets: %w", err)
	}

	presets := make(map[string]Turn, len(file.Users))
	for id, entry := range file.Users {
		presets[strings.TrimSpace(id)] = entryToTurn(entry)
	}
	return presets, entryToTurn(file.Default), nil
}

func entryToTurn(entry presetEntry) Turn {
	role := Role(strings.TrimSpace(entry.Role))
	if role != RoleUser {
		role = RoleAssistant
	}
	return Turn{Content: strings.TrimSpace(entry.Content), Role: role}
}
