package task

import "strings"

// resourceClassPrefixes maps operation-code prefixes to the shared
// "resource class" used for system-task exclusion: at most one running
// task per resource class among zone_name='system' tasks.
var resourceClassPrefixes = []string{
	"zpool_",
	"zfs_",
	"dhcp_",
	"nat_",
	"artifact_",
	"provision_",
}

// ResourceClass returns the exclusion resource class for a system-level
// operation code, inferred from its prefix. Operations with no
// recognized prefix fall into their own class (the operation name
// itself), so they still serialize against repeats of themselves without
// blocking unrelated system operations.
func ResourceClass(operation string) string {
	for _, prefix := range resourceClassPrefixes {
		if strings.HasPrefix(operation, prefix) {
			return strings.TrimSuffix(prefix, "_")
		}
	}
	return operation
}
