// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"os/exec"

	altsrc "github.com/urfave/cli-altsrc/v3"
	yaml "github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	"github.com/staranto/swcache/internal/config"
	"github.com/staranto/swcache/internal/output"
	"github.com/staranto/swcache/internal/swcache"
)

func init() {
	cfg, _ = config.Load("")
}

var (
	cfg config.Type

	tldrFlag *cli.BoolFlag = &cli.BoolFlag{
		Name:        "tldr",
		Usage:       "show tldr page",
		Hidden:      !pathHas("tldr"),
		HideDefault: true,
	}
)

// configSources returns the namespaced and global config file sources for key.
func configSources(ns string, key string) []cli.ValueSource {
	return []cli.ValueSource{
		yaml.YAML(ns+"."+key, altsrc.StringSourcer(cfg.Source)),
		yaml.YAML(key, altsrc.StringSourcer(cfg.Source)),
	}
}

// NewGlobalFlags returns the listing flags shared by caches and entries.
// params[0] is the command namespace in the config file.
func NewGlobalFlags(params ...string) (flags []cli.Flag) {
	ns := params[0]

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "attrs",
			Aliases: []string{"a"},
			Usage:   "comma-separated list of attributes to include in results",
		},
		&cli.BoolWithInverseFlag{
			Name:    "color",
			Aliases: []string{"c"},
			Usage:   "enable colored text output",
			Sources: cli.NewValueSourceChain(configSources(ns, "color")...),
			Value:   output.ColorDefault(),
		},
		&cli.StringFlag{
			Name:    "filter",
			Aliases: []string{"f"},
			Usage:   "comma-separated list of filters to apply to results",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format (text, json, yaml or raw)",
			Sources: cli.NewValueSourceChain(configSources(ns, "output")...),
			Value:   "text",
			Validator: func(value string) error {
				return FlagValidators(value, OutputValidator)
			},
		},
		&cli.StringFlag{
			Name:    "sort",
			Aliases: []string{"s"},
			Usage:   "comma-separated list of attributes to sort the results by",
			Sources: cli.NewValueSourceChain(
				yaml.YAML(ns+"."+"sort", altsrc.StringSourcer(cfg.Source)),
			),
		},
		&cli.BoolWithInverseFlag{
			Name:    "titles",
			Aliases: []string{"t"},
			Usage:   "show titles with text output",
			Sources: cli.NewValueSourceChain(configSources(ns, "titles")...),
			Value:   false,
		},
	}

	return
}

// NewStoreFlags returns the flags selecting and configuring the cache store.
func NewStoreFlags(ns string) []cli.Flag {
	return []cli.Flag{
		NameSpacedValueChainFlagFromConfigFile(ns, "store.type", &cli.StringFlag{
			Name:    "store",
			Usage:   "cache store (memory, disk or s3)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_STORE")),
			Value:   "disk",
			Validator: func(value string) error {
				return FlagValidators(value, JammedFlagValidator, StoreValidator)
			},
		}),
		NameSpacedValueChainFlagFromConfigFile(ns, "store.dir", &cli.StringFlag{
			Name:    "store-dir",
			Usage:   "directory for the disk store. Defaults to the user cache dir",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_CACHE_DIR")),
		}),
		NameSpacedValueChainFlagFromConfigFile(ns, "s3.bucket", &cli.StringFlag{
			Name:    "s3-bucket",
			Usage:   "bucket for the s3 store",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_S3_BUCKET")),
		}),
		NameSpacedValueChainFlagFromConfigFile(ns, "s3.prefix", &cli.StringFlag{
			Name:    "s3-prefix",
			Usage:   "key prefix for the s3 store",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_S3_PREFIX")),
		}),
		NameSpacedValueChainFlagFromConfigFile(ns, "s3.region", &cli.StringFlag{
			Name:    "s3-region",
			Usage:   "AWS region. Defaults to the AWS config chain",
			Sources: cli.NewValueSourceChain(cli.EnvVar("AWS_REGION")),
		}),
		NameSpacedValueChainFlagFromConfigFile(ns, "s3.profile", &cli.StringFlag{
			Name:    "s3-profile",
			Usage:   "AWS shared config profile",
			Sources: cli.NewValueSourceChain(cli.EnvVar("AWS_PROFILE")),
		}),
		NameSpacedValueChainFlagFromConfigFile(ns, "s3.endpoint", &cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "S3-compatible endpoint URL, e.g. MinIO",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_S3_ENDPOINT")),
		}),
		&cli.IntFlag{
			Name:  "s3-max-attempts",
			Usage: "attempts per S3 call, retries included. 0 keeps the SDK default",
			Sources: cli.NewValueSourceChain(append(
				[]cli.ValueSource{cli.EnvVar("SWCACHE_S3_MAX_ATTEMPTS")},
				configSources(ns, "s3.max_attempts")...,
			)...),
		},
	}
}

// NewCacheFlags returns the flags describing the cache version to manage.
func NewCacheFlags(ns string) []cli.Flag {
	return []cli.Flag{
		NameSpacedValueChainFlagFromConfigFile(ns, "cache.version", &cli.StringFlag{
			Name:    "cache",
			Aliases: []string{"n"},
			Usage:   "cache version name",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_VERSION")),
			Value:   swcache.DefaultVersion,
			Validator: func(value string) error {
				return FlagValidators(value, JammedFlagValidator)
			},
		}),
		NameSpacedValueChainFlagFromConfigFile(ns, "cache.fallback", &cli.StringFlag{
			Name:    "fallback",
			Usage:   "path served to offline navigations with no cached page",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_FALLBACK")),
			Value:   swcache.DefaultFallback,
		}),
		&cli.StringSliceFlag{
			Name:    "asset",
			Usage:   "core asset path to precache. Repeatable. Defaults to cache.assets in the config file",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_ASSETS")),
		},
	}
}

// NewOriginFlag constructs the --origin flag, namespaced to a command.
func NewOriginFlag(ns string) *cli.StringFlag {
	return NameSpacedValueChainFlagFromConfigFile(ns, "origin", &cli.StringFlag{
		Name:    "origin",
		Usage:   "origin site the cache fronts",
		Sources: cli.NewValueSourceChain(cli.EnvVar("SWCACHE_ORIGIN")),
		Value:   "http://localhost:8080",
		Validator: func(value string) error {
			return FlagValidators(value, JammedFlagValidator, OriginValidator)
		},
	})
}

// NameSpacedValueChainFlagFromConfigFile adds namespaced and global config file
// sources for key to the given flag's Sources chain.
func NameSpacedValueChainFlagFromConfigFile(ns string, key string, flag *cli.StringFlag) *cli.StringFlag {
	flag.Sources.Chain = append(flag.Sources.Chain, configSources(ns, key)...)
	return flag
}

// pathHas checks if the given executable is on PATH.
func pathHas(target string) bool {
	_, err := exec.LookPath(target)
	return err == nil
}
