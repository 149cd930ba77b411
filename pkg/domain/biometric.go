package domain

// BiometricUnlockResult is the transient outcome of a biometric gate pass.
// Approved with a nil Session never happens: approval always carries the
// rehydrated record the remote service issued.
type BiometricUnlockResult struct {
	Approved bool
	Session  *SessionRecord
}
