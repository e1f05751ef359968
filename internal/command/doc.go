// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package command defines the swcache CLI. Each subcommand has a builder that
// wires its flags and validators to an action.
package command
