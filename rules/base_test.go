package rules

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestBaseRuleSandboxTableFor(t *testing.T) {
	testCases := []struct {
		name   string
		base   BaseRule
		table  string
		expect string
	}{
		{"Issue number", BaseRule{IssueNumbers: []string{"DC975"}}, "observation", "dc975_observation"},
		{"Dashed issue", BaseRule{IssueNumbers: []string{"DC-2065", "DC518"}}, "observation", "dc2065_observation"},
		{"Table namer", BaseRule{Target: Target{TableNamer: "rdr"}, IssueNumbers: []string{"DC975"}}, "measurement", "rdr_dc975_measurement"},
		{"No issue", BaseRule{}, "person", "rule_person"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.base.SandboxTableFor(tc.table); got != tc.expect {
				t.Errorf("SandboxTableFor(%q) = %q, want %q", tc.table, got, tc.expect)
			}
		})
	}
}

func TestBaseRuleDefaults(t *testing.T) {
	base := &BaseRule{
		Target:         testTarget,
		IssueNumbers:   []string{"DC1"},
		AffectedTables: []string{"a", "b"},
	}

	if got := base.SandboxTableNames(); !reflect.DeepEqual(got, []string{"dc1_a", "dc1_b"}) {
		t.Errorf("SandboxTableNames() = %v", got)
	}
	if err := base.Setup(context.Background(), nil); err != nil {
		t.Errorf("Setup() = %v, want nil", err)
	}
	if err := base.SetupValidation(context.Background(), nil); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("SetupValidation() = %v, want ErrNotImplemented", err)
	}
	if err := base.Validate(context.Background(), nil); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("Validate() = %v, want ErrNotImplemented", err)
	}
	if got := base.Table("observation"); got != "`test-project.combined.observation`" {
		t.Errorf("Table() = %s", got)
	}
	if got := base.SandboxTable("t"); got != "`test-project.combined_sandbox.t`" {
		t.Errorf("SandboxTable() = %s", got)
	}
}
