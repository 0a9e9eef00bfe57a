package bridge

import (
	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Lifecycle event names the navigation waits on.
const (
	lifecycleDOMContentLoaded = "DOMContentLoaded"
	lifecycleNetworkIdle      = "networkIdle"
)

// errBlockedByClient is what Page.navigate reports when our own interception
// failed the main request; it is not treated as a navigation failure.
const errBlockedByClient = "net::ERR_BLOCKED_BY_CLIENT"

// The structs below are partial views of protocol payloads. The full cdproto
// types reject enum values newer than the vendored protocol, and a paused
// request that cannot be decoded would never be continued.

type pausedRequest struct {
	RequestID fetch.RequestID `json:"requestId"`
	Request   struct {
		URL    string `json:"url"`
		Method string `json:"method"`
	} `json:"request"`
}

type lifecycleEvent struct {
	FrameID  cdp.FrameID  `json:"frameId"`
	LoaderID cdp.LoaderID `json:"loaderId"`
	Name     string       `json:"name"`
}

type frameNavigated struct {
	Frame struct {
		ID       cdp.FrameID `json:"id"`
		ParentID cdp.FrameID `json:"parentId"`
		URL      string      `json:"url"`
	} `json:"frame"`
}

type networkEvent struct {
	RequestID network.RequestID `json:"requestId"`
	Request   *struct {
		URL    string `json:"url"`
		Method string `json:"method"`
	} `json:"request"`
	Response *struct {
		URL    string `json:"url"`
		Status int64  `json:"status"`
	} `json:"response"`
	DataLength int64  `json:"dataLength"`
	ErrorText  string `json:"errorText"`
	Canceled   bool   `json:"canceled"`
}

type navigateResult struct {
	FrameID   cdp.FrameID  `json:"frameId"`
	LoaderID  cdp.LoaderID `json:"loaderId"`
	ErrorText string       `json:"errorText"`
}

type frameTreeResult struct {
	FrameTree struct {
		Frame struct {
			ID  cdp.FrameID `json:"id"`
			URL string      `json:"url"`
		} `json:"frame"`
	} `json:"frameTree"`
}

type remoteValue struct {
	Type        string         `json:"type"`
	Value       jsontext.Value `json:"value"`
	Description string         `json:"description"`
}

type evaluateResult struct {
	Result           remoteValue `json:"result"`
	ExceptionDetails *struct {
		Text      string       `json:"text"`
		Exception *remoteValue `json:"exception"`
	} `json:"exceptionDetails"`
}

func decode(msg *cdproto.Message, v any) error {
	return json.Unmarshal(msg.Params, v)
}

// isNetworkEvent reports the informational Network.* notifications that are
// only logged.
func isNetworkEvent(m cdproto.MethodType) bool {
	switch m {
	case cdproto.EventNetworkRequestWillBeSent,
		cdproto.EventNetworkDataReceived,
		cdproto.EventNetworkResponseReceived,
		cdproto.EventNetworkLoadingFinished,
		cdproto.EventNetworkLoadingFailed,
		cdproto.EventNetworkRequestServedFromCache:
		return true
	}
	return false
}
