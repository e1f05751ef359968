// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/staranto/swcache/internal/meta"
)

const bashCompletionScript = `# bash completion for swcache
# Fallback if bash-completion is not installed
if ! declare -F _get_comp_words_by_ref >/dev/null 2>&1; then
  _get_comp_words_by_ref() {
    cur=${COMP_WORDS[COMP_CWORD]}
    prev=${COMP_WORDS[COMP_CWORD-1]}
  }
fi

_swcache()
{
    local cur prev cmd
    COMPREPLY=()
    _get_comp_words_by_ref -n : cur prev

    if [[ ${COMP_CWORD} -eq 1 ]]; then
        COMPREPLY=( $(compgen -W "activate caches diff entries fetch install serve completion --help --version" -- "$cur") )
        return 0
    fi

    cmd=${COMP_WORDS[1]}
    local store="--store --store-dir --s3-bucket --s3-prefix --s3-region --s3-profile --s3-endpoint --s3-max-attempts --tldr"
    local cache="--cache -n --fallback --asset"
    local list="--attrs -a --color -c --filter -f --output -o --sort -s --titles -t"

    case "$cmd" in
        activate)
            local opts="$store $cache --origin"
            ;;
        caches)
            local opts="$store $list --cache -n"
            ;;
        diff)
            local opts="$store --color -c"
            ;;
        entries)
            local opts="$store $list --cache -n"
            ;;
        fetch)
            local opts="$store $cache --origin --timeout --navigate -N --method --body"
            ;;
        install)
            local opts="$store $cache --origin --timeout"
            ;;
        serve)
            local opts="$store $cache --origin --listen -l --timeout"
            ;;
        completion)
            COMPREPLY=( $(compgen -W "bash zsh" -- "$cur") )
            return 0
            ;;
        *)
            local opts="$store"
            ;;
    esac

    case "$prev" in
        --output|-o)
            COMPREPLY=( $(compgen -W "text json raw yaml" -- "$cur") )
            return 0
            ;;
        --store)
            COMPREPLY=( $(compgen -W "memory disk s3" -- "$cur") )
            return 0
            ;;
        --store-dir)
            COMPREPLY=( $(compgen -o dirnames -- "$cur") )
            return 0
            ;;
    esac

    COMPREPLY=( $(compgen -W "$opts" -- "$cur") )
    return 0
}

complete -F _swcache swcache
`

const zshCompletionScript = `#compdef swcache

_swcache() {
  local -a cmds
  cmds=(
    'activate:delete every cache except the current version'
    'caches:list the caches in a store'
    'diff:show how two caches differ'
    'entries:list the entries of a cache'
    'fetch:run one request through the cache'
    'install:precache the core assets of a cache version'
    'serve:run the offline caching proxy'
    'completion:generate shell completion script'
  )

  local -a store
  store=(
    '--store[cache store]:store:(memory disk s3)'
    '--store-dir[disk store directory]:dir:_directories'
    '--s3-bucket[s3 bucket]:bucket'
    '--s3-prefix[s3 key prefix]:prefix'
    '--s3-region[aws region]:region'
    '--s3-profile[aws profile]:profile'
    '--s3-endpoint[s3 endpoint]:url'
    '--s3-max-attempts[attempts per s3 call]:n'
    '--tldr[show tldr page]'
  )

  local -a cache
  cache=(
    '(-n --cache)'{-n,--cache}'[cache version]:name'
    '--fallback[offline navigation fallback]:path'
    '*--asset[core asset]:path'
  )

  local -a list
  list=(
    '(-a --attrs)'{-a,--attrs}'[attributes to include]:attrs'
    '(-c --color)'{-c,--color}'[enable colored text]'
    '(-f --filter)'{-f,--filter}'[filters to apply]:filters'
    '(-o --output)'{-o,--output}'[output format]:format:(text json raw yaml)'
    '(-s --sort)'{-s,--sort}'[sort attributes]:attrs'
    '(-t --titles)'{-t,--titles}'[show titles]'
  )

  if (( CURRENT == 2 )); then
    _describe -t commands 'swcache commands' cmds
    return
  fi

  case $words[2] in
    activate)
      _arguments -C $store $cache '--origin[origin url]:url'
      ;;
    caches)
      _arguments -C $store $list '(-n --cache)'{-n,--cache}'[current version]:name'
      ;;
    diff)
      _arguments -C $store '(-c --color)'{-c,--color}'[enable colored diff]' '1:old cache' '2:new cache'
      ;;
    entries)
      _arguments -C $store $list '(-n --cache)'{-n,--cache}'[cache]:name' '::cache name'
      ;;
    fetch)
      _arguments -C $store $cache \
        '--origin[origin url]:url' \
        '--timeout[fetch timeout]:duration' \
        '(-N --navigate)'{-N,--navigate}'[page navigation]' \
        '--method[request method]:method' \
        '--body[write response body]' \
        '1:url or path'
      ;;
    install)
      _arguments -C $store $cache '--origin[origin url]:url' '--timeout[fetch timeout]:duration'
      ;;
    serve)
      _arguments -C $store $cache \
        '--origin[origin url]:url' \
        '(-l --listen)'{-l,--listen}'[listen address]:addr' \
        '--timeout[fetch timeout]:duration'
      ;;
    completion)
      _arguments '1: :((bash zsh))'
      ;;
  esac
}

# If this file is sourced directly (not autoloaded via fpath), ensure compsys is initialized and register the completion
if ! typeset -f compdef >/dev/null 2>&1; then
  autoload -Uz compinit && compinit -i
fi
compdef _swcache swcache
`

// CompletionScript returns the completion script for shell, detecting it from
// $SHELL when empty.
func CompletionScript(shell string, envShell string) (string, bool) {
	if shell == "" {
		switch {
		case strings.HasSuffix(envShell, "zsh"):
			shell = "zsh"
		case strings.HasSuffix(envShell, "bash"):
			shell = "bash"
		}
	}
	switch shell {
	case "bash":
		return bashCompletionScript, true
	case "zsh":
		return zshCompletionScript, true
	default:
		return "", false
	}
}

func CompletionCommandAction(ctx context.Context, cmd *cli.Command) error {
	script, ok := CompletionScript(cmd.Args().First(), os.Getenv("SHELL"))
	if !ok {
		fmt.Fprintln(cmd.Root().ErrWriter, "usage: swcache completion [bash|zsh]")
		return nil
	}
	fmt.Fprint(writer(cmd), script)
	return nil
}

func CompletionCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "completion",
		Usage:     "generate shell completion script",
		UsageText: "swcache completion [bash|zsh]",
		Metadata: map[string]any{
			"meta": meta,
		},
		Action: CompletionCommandAction,
	}
}
