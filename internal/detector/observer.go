package detector

// DiscardReason says why a run was dropped without a scan.
type DiscardReason string

const (
	// ReasonTooShort is a run below MinLength at termination or timeout.
	ReasonTooShort DiscardReason = "too_short"
	// ReasonOverflow is a run that reached MaxLength.
	ReasonOverflow DiscardReason = "overflow"
)

// Observer receives detector events for metrics. Methods are called with
// the detector's lock held and must not call back into the detector.
type Observer interface {
	KeyAccepted()
	KeyIgnored()
	RunDiscarded(reason DiscardReason, length int)
	ScanEmitted(Result)
	ListenerFailed()
}

type nopObserver struct{}

func (nopObserver) KeyAccepted()                    {}
func (nopObserver) KeyIgnored()                     {}
func (nopObserver) RunDiscarded(DiscardReason, int) {}
func (nopObserver) ScanEmitted(Result)              {}
func (nopObserver) ListenerFailed()                 {}
