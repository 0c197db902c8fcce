package conduit

import "fmt"

// topics derives the CLSP publish/subscribe topic set for one stream
// subscription from a fresh guid (§4.4, §6: "a per-session publish
// topic derived from a guid, an inbound init-segment topic distinct from
// the media topic").
type topics struct {
	guid string
	base string
}

func newTopics(streamName, guid string) topics {
	return topics{
		guid: guid,
		base: fmt.Sprintf("%s/%s", streamName, guid),
	}
}

func (t topics) command() string { return t.base + "/command" }
func (t topics) init() string    { return t.base + "/init" }
func (t topics) media() string   { return t.base + "/media" }
