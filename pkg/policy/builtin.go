package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		identityRequiredPolicy(),
		recordNamingPolicy(),
		disabledRecordPolicy(),
		memoryBoundsPolicy(),
	}
}

// identityRequiredPolicy enforces that guest records carry a vmid.
func identityRequiredPolicy() Policy {
	return Policy{
		Name:        "identity-required",
		Description: "VMs and containers must declare a vmid in the valid Proxmox range",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"identity", "guests"},
		Rego: `package pvconverge.policies.identity

import rego.v1

guest_categories := {"vms", "containers"}

deny contains violation if {
	record := input.record
	guest_categories[record.category]
	not record.attributes.vmid
	violation := {
		"message": sprintf("%s record '%s' must declare a vmid", [record.category, record.key]),
		"severity": "error",
		"category": record.category,
		"key": record.key,
	}
}

deny contains violation if {
	record := input.record
	guest_categories[record.category]
	vmid := record.attributes.vmid
	is_number(vmid)
	vmid < 100
	violation := {
		"message": sprintf("%s record '%s' has vmid %v below the reserved range boundary 100", [record.category, record.key, vmid]),
		"severity": "error",
		"category": record.category,
		"key": record.key,
	}
}

deny contains violation if {
	record := input.record
	guest_categories[record.category]
	vmid := record.attributes.vmid
	is_number(vmid)
	vmid > 999999999
	violation := {
		"message": sprintf("%s record '%s' has vmid %v above the maximum 999999999", [record.category, record.key, vmid]),
		"severity": "error",
		"category": record.category,
		"key": record.key,
	}
}
`,
	}
}

// recordNamingPolicy enforces record key conventions.
func recordNamingPolicy() Policy {
	return Policy{
		Name:        "record-naming",
		Description: "Record keys must be lowercase alphanumeric with hyphens or underscores",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package pvconverge.policies.naming

import rego.v1

deny contains violation if {
	record := input.record
	not regex.match("^[a-z0-9][a-z0-9_-]*$", record.key)
	violation := {
		"message": sprintf("record key '%s' must be lowercase alphanumeric with hyphens or underscores", [record.key]),
		"severity": "error",
		"category": record.category,
		"key": record.key,
	}
}

deny contains violation if {
	record := input.record
	count(record.key) > 63
	violation := {
		"message": sprintf("record key '%s' exceeds 63 characters", [record.key]),
		"severity": "error",
		"category": record.category,
		"key": record.key,
	}
}
`,
	}
}

// disabledRecordPolicy warns about records the apply engine will remove.
func disabledRecordPolicy() Policy {
	return Policy{
		Name:        "disabled-record",
		Description: "Disabled records are withheld from the apply engine and may be destroyed",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety"},
		Rego: `package pvconverge.policies.disabled

import rego.v1

deny contains violation if {
	record := input.record
	record.enabled == false
	violation := {
		"message": sprintf("%s record '%s' is disabled and will not be applied", [record.category, record.key]),
		"severity": "warning",
		"category": record.category,
		"key": record.key,
	}
}
`,
	}
}

// memoryBoundsPolicy warns about guest memory outside sane bounds.
func memoryBoundsPolicy() Policy {
	return Policy{
		Name:        "memory-bounds",
		Description: "Guest memory should stay within 16 MiB and 4 TiB",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"sizing", "guests"},
		Rego: `package pvconverge.policies.memory

import rego.v1

guest_categories := {"vms", "containers"}

deny contains violation if {
	record := input.record
	guest_categories[record.category]
	memory := record.attributes.memory
	is_number(memory)
	memory < 16
	violation := {
		"message": sprintf("%s record '%s' requests %v MiB of memory, below the 16 MiB floor", [record.category, record.key, memory]),
		"severity": "warning",
		"category": record.category,
		"key": record.key,
	}
}

deny contains violation if {
	record := input.record
	guest_categories[record.category]
	memory := record.attributes.memory
	is_number(memory)
	memory > 4194304
	violation := {
		"message": sprintf("%s record '%s' requests %v MiB of memory, above the 4 TiB ceiling", [record.category, record.key, memory]),
		"severity": "warning",
		"category": record.category,
		"key": record.key,
	}
}
`,
	}
}
