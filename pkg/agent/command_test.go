package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thorium-sh/thorium/pkg/models"
)

func TestBuildCommandMergesOverTemplate(t *testing.T) {
	tmpl := models.CommandTemplate{
		Positionals: []string{"scan"},
		Switches:    []string{"--recursive"},
		Kwargs:      map[string]string{"--timeout": "30"},
	}
	args := models.JobArgs{
		Positionals: []string{"extra.bin"},
		Switches:    []string{"--verbose"},
		Kwargs:      map[string]string{"--output": "json"},
	}

	got := buildCommand(tmpl, args)

	assert.Equal(t, []string{"scan", "extra.bin", "--recursive", "--verbose", "--output", "json", "--timeout", "30"}, got)
}

func TestBuildCommandOverridePositionalsReplaces(t *testing.T) {
	tmpl := models.CommandTemplate{Positionals: []string{"scan"}}
	args := models.JobArgs{
		Positionals:         []string{"only.bin"},
		OverridePositionals: true,
	}

	got := buildCommand(tmpl, args)

	assert.Equal(t, []string{"only.bin"}, got)
}

func TestBuildCommandOverrideKwargsDropsTemplate(t *testing.T) {
	tmpl := models.CommandTemplate{Kwargs: map[string]string{"--timeout": "30"}}
	args := models.JobArgs{
		Kwargs:         map[string]string{"--output": "json"},
		OverrideKwargs: true,
	}

	got := buildCommand(tmpl, args)

	assert.Equal(t, []string{"--output", "json"}, got)
}

func TestBuildCommandOverrideCmdReplacesWholeLine(t *testing.T) {
	tmpl := models.CommandTemplate{Positionals: []string{"scan"}, Switches: []string{"--recursive"}}
	args := models.JobArgs{
		OverrideCmd:      true,
		OverrideCmdValue: []string{"custom", "--flag"},
		Positionals:      []string{"ignored.bin"},
	}

	got := buildCommand(tmpl, args)

	assert.Equal(t, []string{"custom", "--flag"}, got)
}

func TestBuildCommandKwargsAreSortedForDeterminism(t *testing.T) {
	tmpl := models.CommandTemplate{}
	args := models.JobArgs{
		Kwargs: map[string]string{"--zeta": "1", "--alpha": "2"},
	}

	got := buildCommand(tmpl, args)

	assert.Equal(t, []string{"--alpha", "2", "--zeta", "1"}, got)
}
