package utils

import "github.com/google/uuid"

// GenerateMachineID returns a fresh machine identifier. Regenerated on clone
// so two VMs never share one.
func GenerateMachineID() string {
	return uuid.New().String()
}
