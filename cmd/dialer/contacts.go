package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"outbound-dialer/internal/calls"

	"gopkg.in/yaml.v3"
)

// contactsFile is the on-disk target list. A bare YAML sequence of contacts is
// accepted too.
type contactsFile struct {
	// EligibleStatuses, when set, filters contacts at snapshot time.
	EligibleStatuses []string        `yaml:"eligible_statuses,omitempty"`
	Contacts         []calls.Contact `yaml:"contacts"`
}

func loadContacts(path string) (contactsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return contactsFile{}, err
	}
	return parseContacts(raw)
}

func parseContacts(raw []byte) (contactsFile, error) {
	var out contactsFile

	var probe yaml.Node
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return out, fmt.Errorf("parse contacts: %w", err)
	}
	if len(probe.Content) == 0 {
		return out, errors.New("contacts file is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var err error
	if probe.Content[0].Kind == yaml.SequenceNode {
		err = dec.Decode(&out.Contacts)
	} else {
		err = dec.Decode(&out)
	}
	if err != nil {
		return contactsFile{}, fmt.Errorf("parse contacts: %w", err)
	}

	seen := make(map[string]struct{}, len(out.Contacts))
	for i, c := range out.Contacts {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return contactsFile{}, fmt.Errorf("contact %d: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return contactsFile{}, fmt.Errorf("contact %d: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		out.Contacts[i].ID = id
	}
	return out, nil
}
