package tui

type View int

const (
	ViewClassify View = iota
	ViewResult
	ViewClients
	ViewClientDetail
	ViewHistory
)

func (v View) String() string {
	switch v {
	case ViewClassify:
		return "classify"
	case ViewResult:
		return "result"
	case ViewClients:
		return "clients"
	case ViewClientDetail:
		return "client"
	case ViewHistory:
		return "history"
	default:
		return "unknown"
	}
}

// tabOrder is the order tab walks through. ViewClientDetail is only reached
// from a client result, and ViewResult is skipped until something has been
// classified.
var tabOrder = []View{ViewClassify, ViewResult, ViewClients, ViewHistory}
