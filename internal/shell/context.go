// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package shell

import (
	"encoding/json"
	"fmt"
)

// WindowConfig declares one host window.
type WindowConfig struct {
	Name      string `json:"name"`
	Title     string `json:"title"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	MinWidth  int    `json:"minWidth"`
	MinHeight int    `json:"minHeight"`
	Resizable *bool  `json:"resizable"`
}

// Context is the application manifest embedded into the binary at build time.
type Context struct {
	ProductName string         `json:"productName"`
	Version     string         `json:"version"`
	Identifier  string         `json:"identifier"`
	Windows     []WindowConfig `json:"windows"`
}

// ParseContext decodes an embedded manifest. It does not insist on a main
// window; that is checked when the host runs setup.
func ParseContext(data []byte) (*Context, error) {
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse app manifest: %w", err)
	}
	if c.ProductName == "" {
		c.ProductName = "MeReader"
	}
	seen := make(map[string]bool, len(c.Windows))
	for i := range c.Windows {
		w := &c.Windows[i]
		if w.Name == "" {
			return nil, fmt.Errorf("parse app manifest: window %d has no name", i)
		}
		if seen[w.Name] {
			return nil, fmt.Errorf("parse app manifest: duplicate window %q", w.Name)
		}
		seen[w.Name] = true
		if w.Title == "" {
			w.Title = c.ProductName
		}
		if w.Width == 0 {
			w.Width = 1280
		}
		if w.Height == 0 {
			w.Height = 800
		}
	}
	return &c, nil
}

// Window returns the declared window called name.
func (c *Context) Window(name string) (WindowConfig, bool) {
	for _, w := range c.Windows {
		if w.Name == name {
			return w, true
		}
	}
	return WindowConfig{}, false
}

// Primary is the window the host actually creates: "main" when declared,
// otherwise the first entry.
func (c *Context) Primary() (WindowConfig, bool) {
	if w, ok := c.Window(MainWindow); ok {
		return w, true
	}
	if len(c.Windows) > 0 {
		return c.Windows[0], true
	}
	return WindowConfig{}, false
}
