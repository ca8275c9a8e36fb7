package common

import "errors"

// Tier-2 error kinds surfaced at the lock manager boundary (spec.md §6).
var (
	ErrLockSharedOnReadUncommitted     = errors.New("LOCK_SHARED_ON_READ_UNCOMMITTED")
	ErrLockOnShrinking                 = errors.New("LOCK_ON_SHRINKING")
	ErrAttemptedUnlockButNoLockHeld    = errors.New("ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD")
	ErrTableUnlockedBeforeUnlockingRows = errors.New("TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS")
	ErrAttemptedIntentionLockOnRow      = errors.New("ATTEMPTED_INTENTION_LOCK_ON_ROW")
	ErrIncompatibleUpgrade              = errors.New("INCOMPATIBLE_UPGRADE")
	ErrUpgradeConflict                  = errors.New("UPGRADE_CONFLICT")
	ErrTableLockNotPresent              = errors.New("TABLE_LOCK_NOT_PRESENT")
	ErrDeadlock                         = errors.New("DEADLOCK")
)
