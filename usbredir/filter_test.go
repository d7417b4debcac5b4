package usbredir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFilterRules(t *testing.T) {
	rules, err := parseFilterRules("0x03,-1,-1,-1,0|-1,-1,-1,-1,1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, FilterRule{DeviceClass: 0x03, VendorID: -1, ProductID: -1, VersionBCD: -1, Allow: false}, rules[0])
	require.True(t, rules[1].Allow)
}

func TestParseFilterRulesRejectsShortClause(t *testing.T) {
	_, err := parseFilterRules("1,2,3")
	require.Error(t, err)
}

func TestParseFilterRulesEmpty(t *testing.T) {
	rules, err := parseFilterRules("\x00")
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestRulesAllowFirstMatchWins(t *testing.T) {
	rules, err := parseFilterRules("0x08,-1,-1,-1,0|-1,-1,-1,-1,1")
	require.NoError(t, err)

	// The first clause denies all mass-storage interfaces, so the
	// catch-all allow behind it never gets a say.
	require.False(t, rulesAllow(rules, deviceClass, vendorID, productID, 0x0100))
	require.True(t, rulesAllow(rules, 0x03, vendorID, productID, 0x0100))
}

func TestRulesAllowDeniesWhenNoRuleMatches(t *testing.T) {
	rules, err := parseFilterRules("0x03,-1,-1,-1,1")
	require.NoError(t, err)
	require.False(t, rulesAllow(rules, deviceClass, vendorID, productID, 0x0100))
}

func TestRulesAllowEmptySetAllows(t *testing.T) {
	require.True(t, rulesAllow(nil, deviceClass, vendorID, productID, 0x0100))
}

// TestFilterRejectBlocksAttach wires a filter_reject packet through the
// channel and confirms a later Attach refuses to announce the device.
func TestFilterRejectBlocksAttach(t *testing.T) {
	c, _ := newTestChannel(t)

	_, err := c.Feed(buildPacket(typeFilterReject, 0, nil))
	require.NoError(t, err)
	require.ErrorIs(t, c.Attach(), errDeviceRejected)
}

// TestPeerFilterDeniesAttach feeds a filter_filter packet whose rules
// deny mass-storage interfaces and confirms Attach honors it.
func TestPeerFilterDeniesAttach(t *testing.T) {
	c, _ := newTestChannel(t)

	_, err := c.Feed(buildPacket(typeFilterFilter, 0, []byte("0x08,-1,-1,-1,0\x00")))
	require.NoError(t, err)
	require.ErrorIs(t, c.Attach(), errDeviceFiltered)
}

// TestDetachWaitsForDisconnectAck drives hello (with the disconnect-ack
// capability set), attach, detach, then the peer's ack, checking the
// PARSER-until-acked state sequencing.
func TestDetachWaitsForDisconnectAck(t *testing.T) {
	c, out := newTestChannel(t)

	hello := make([]byte, 64+4)
	hello[64] = 1 << capDeviceDisconnectAck
	_, err := c.Feed(buildPacket(typeHello, 0, hello))
	require.NoError(t, err)

	require.NoError(t, c.Attach())
	require.Equal(t, ChannelParser, c.State())
	out.Reset()

	require.NoError(t, c.Detach())
	require.Equal(t, ChannelParser, c.State())

	h, _ := nextPacket(t, out)
	require.Equal(t, uint32(typeDeviceDisconnect), h.Type)

	_, err = c.Feed(buildPacket(typeDeviceDisconnectAck, 0, nil))
	require.NoError(t, err)
	require.Equal(t, ChannelHost, c.State())
}
