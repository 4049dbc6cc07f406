package out

// Metrics 网关指标
type Metrics interface {
	ConnectionOpened(clientType string)
	ConnectionClosed(reason string)
	AuthFailed()
	PresenceChanged(status string)
	StoreError(op string)
	EventRouted(category string, delivered, dropped, filtered int)
	EventRejected(reason string)
}

// NopMetrics 不做任何记录
type NopMetrics struct{}

func (NopMetrics) ConnectionOpened(string)           {}
func (NopMetrics) ConnectionClosed(string)           {}
func (NopMetrics) AuthFailed()                       {}
func (NopMetrics) PresenceChanged(string)            {}
func (NopMetrics) StoreError(string)                 {}
func (NopMetrics) EventRouted(string, int, int, int) {}
func (NopMetrics) EventRejected(string)              {}
