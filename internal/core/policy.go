package core

import (
	"fmt"
	"strings"
	"time"
)

type RetentionMode uint

const (
	// RetainForGrace keeps an emptied room until the janitor finds it older
	// than the grace period.
	RetainForGrace RetentionMode = iota
	// DeleteWhenEmpty drops a room the moment its last participant leaves.
	DeleteWhenEmpty
)

func (m RetentionMode) String() string {
	switch m {
	case RetainForGrace:
		return "grace"
	case DeleteWhenEmpty:
		return "immediate"
	}
	return fmt.Sprintf("RetentionMode(%d)", uint(m))
}

func ParseRetentionMode(s string) (RetentionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "grace":
		return RetainForGrace, nil
	case "immediate":
		return DeleteWhenEmpty, nil
	}
	return 0, fmt.Errorf("unknown retention mode %q", s)
}

// RetentionPolicy decides what happens to a room once it has no participants.
type RetentionPolicy struct {
	Mode  RetentionMode
	Grace time.Duration
}

const DefaultGracePeriod = 60 * time.Minute

func DeleteImmediately() RetentionPolicy {
	return RetentionPolicy{Mode: DeleteWhenEmpty}
}

func DeleteAfter(grace time.Duration) RetentionPolicy {
	return RetentionPolicy{Mode: RetainForGrace, Grace: grace}
}

func (p RetentionPolicy) Immediate() bool {
	return p.Mode == DeleteWhenEmpty
}

func (p RetentionPolicy) String() string {
	if p.Immediate() {
		return p.Mode.String()
	}
	return fmt.Sprintf("%s(%s)", p.Mode, p.Grace)
}
