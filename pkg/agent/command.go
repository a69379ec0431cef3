package agent

import (
	"sort"

	"github.com/thorium-sh/thorium/pkg/models"
)

// buildCommand layers a job's args over its image's command template,
// mirroring spec.md §4.4 step 2: positionals are appended unless
// override_positionals, kwargs are merged unless override_kwargs, switches
// are always appended, and override_cmd replaces the whole line outright.
func buildCommand(tmpl models.CommandTemplate, args models.JobArgs) []string {
	if args.OverrideCmd {
		return append([]string{}, args.OverrideCmdValue...)
	}

	positionals := append([]string{}, tmpl.Positionals...)
	if args.OverridePositionals {
		positionals = append([]string{}, args.Positionals...)
	} else {
		positionals = append(positionals, args.Positionals...)
	}

	kwargs := make(map[string]string, len(tmpl.Kwargs)+len(args.Kwargs))
	if !args.OverrideKwargs {
		for k, v := range tmpl.Kwargs {
			kwargs[k] = v
		}
	}
	for k, v := range args.Kwargs {
		kwargs[k] = v
	}

	cmd := append([]string{}, positionals...)
	cmd = append(cmd, tmpl.Switches...)
	cmd = append(cmd, args.Switches...)

	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd = append(cmd, k, kwargs[k])
	}
	return cmd
}
