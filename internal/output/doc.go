// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package output turns a JSON listing into what the user sees: rows are
// filtered and sorted, then emitted as a text table, JSON or YAML.
package output
