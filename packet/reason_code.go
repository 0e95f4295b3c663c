package packet

// ReasonCode represents an MQTT v5.0 reason code.
// MQTT v5.0 spec: Section 2.4
type ReasonCode byte

// Reason codes as defined in MQTT v5.0 specification.
const (
	ReasonSuccess                    ReasonCode = 0x00
	ReasonGrantedQoS1                ReasonCode = 0x01
	ReasonGrantedQoS2                ReasonCode = 0x02
	ReasonDisconnectWithWill         ReasonCode = 0x04
	ReasonNoMatchingSubscribers      ReasonCode = 0x10
	ReasonNoSubscriptionExisted      ReasonCode = 0x11
	ReasonContinueAuth               ReasonCode = 0x18
	ReasonReAuth                     ReasonCode = 0x19
	ReasonUnspecifiedError           ReasonCode = 0x80
	ReasonMalformedPacket            ReasonCode = 0x81
	ReasonProtocolError              ReasonCode = 0x82
	ReasonImplSpecificError          ReasonCode = 0x83
	ReasonUnsupportedProtocolVersion ReasonCode = 0x84
	ReasonClientIDNotValid           ReasonCode = 0x85
	ReasonBadUserNameOrPassword      ReasonCode = 0x86
	ReasonNotAuthorized              ReasonCode = 0x87
	ReasonServerUnavailable          ReasonCode = 0x88
	ReasonServerBusy                 ReasonCode = 0x89
	ReasonBanned                     ReasonCode = 0x8A
	ReasonServerShuttingDown         ReasonCode = 0x8B
	ReasonBadAuthMethod              ReasonCode = 0x8C
	ReasonKeepAliveTimeout           ReasonCode = 0x8D
	ReasonSessionTakenOver           ReasonCode = 0x8E
	ReasonTopicFilterInvalid         ReasonCode = 0x8F
	ReasonTopicNameInvalid           ReasonCode = 0x90
	ReasonPacketIDInUse              ReasonCode = 0x91
	ReasonPacketIDNotFound           ReasonCode = 0x92
	ReasonReceiveMaxExceeded         ReasonCode = 0x93
	ReasonTopicAliasInvalid          ReasonCode = 0x94
	ReasonPacketTooLarge             ReasonCode = 0x95
	ReasonMessageRateTooHigh         ReasonCode = 0x96
	ReasonQuotaExceeded              ReasonCode = 0x97
	ReasonAdminAction                ReasonCode = 0x98
	ReasonPayloadFormatInvalid       ReasonCode = 0x99
	ReasonRetainNotSupported         ReasonCode = 0x9A
	ReasonQoSNotSupported            ReasonCode = 0x9B
	ReasonUseAnotherServer           ReasonCode = 0x9C
	ReasonServerMoved                ReasonCode = 0x9D
	ReasonSharedSubsNotSupported     ReasonCode = 0x9E
	ReasonConnectionRateExceeded     ReasonCode = 0x9F
	ReasonMaxConnectTime             ReasonCode = 0xA0
	ReasonSubIDsNotSupported         ReasonCode = 0xA1
	ReasonWildcardSubsNotSupported   ReasonCode = 0xA2
)

// ReasonGrantedQoS0 is ReasonSuccess as used in SUBACK.
const ReasonGrantedQoS0 = ReasonSuccess

// validIn is a bit set of packet types, indexed by PacketType.
type validIn uint16

func in(types ...PacketType) validIn {
	var m validIn
	for _, t := range types {
		m |= 1 << t
	}
	return m
}

type reasonInfo struct {
	name  string
	valid validIn
}

var reasonCodes = map[ReasonCode]reasonInfo{
	ReasonSuccess:                    {"Success", in(CONNACK, PUBACK, PUBREC, PUBREL, PUBCOMP, SUBACK, UNSUBACK, DISCONNECT, AUTH)},
	ReasonGrantedQoS1:                {"Granted QoS 1", in(SUBACK)},
	ReasonGrantedQoS2:                {"Granted QoS 2", in(SUBACK)},
	ReasonDisconnectWithWill:         {"Disconnect with Will Message", in(DISCONNECT)},
	ReasonNoMatchingSubscribers:      {"No matching subscribers", in(PUBACK, PUBREC)},
	ReasonNoSubscriptionExisted:      {"No subscription existed", in(UNSUBACK)},
	ReasonContinueAuth:               {"Continue authentication", in(AUTH)},
	ReasonReAuth:                     {"Re-authenticate", in(AUTH)},
	ReasonUnspecifiedError:           {"Unspecified error", in(CONNACK, PUBACK, PUBREC, SUBACK, UNSUBACK, DISCONNECT)},
	ReasonMalformedPacket:            {"Malformed Packet", in(CONNACK, DISCONNECT)},
	ReasonProtocolError:              {"Protocol Error", in(CONNACK, DISCONNECT)},
	ReasonImplSpecificError:          {"Implementation specific error", in(CONNACK, PUBACK, PUBREC, SUBACK, UNSUBACK, DISCONNECT)},
	ReasonUnsupportedProtocolVersion: {"Unsupported Protocol Version", in(CONNACK)},
	ReasonClientIDNotValid:           {"Client Identifier not valid", in(CONNACK)},
	ReasonBadUserNameOrPassword:      {"Bad User Name or Password", in(CONNACK)},
	ReasonNotAuthorized:              {"Not authorized", in(CONNACK, PUBACK, PUBREC, SUBACK, UNSUBACK, DISCONNECT)},
	ReasonServerUnavailable:          {"Server unavailable", in(CONNACK)},
	ReasonServerBusy:                 {"Server busy", in(CONNACK, DISCONNECT)},
	ReasonBanned:                     {"Banned", in(CONNACK)},
	ReasonServerShuttingDown:         {"Server shutting down", in(DISCONNECT)},
	ReasonBadAuthMethod:              {"Bad authentication method", in(CONNACK, DISCONNECT)},
	ReasonKeepAliveTimeout:           {"Keep Alive timeout", in(DISCONNECT)},
	ReasonSessionTakenOver:           {"Session taken over", in(DISCONNECT)},
	ReasonTopicFilterInvalid:         {"Topic Filter invalid", in(SUBACK, UNSUBACK, DISCONNECT)},
	ReasonTopicNameInvalid:           {"Topic Name invalid", in(CONNACK, PUBACK, PUBREC, DISCONNECT)},
	ReasonPacketIDInUse:              {"Packet Identifier in use", in(PUBACK, PUBREC, SUBACK, UNSUBACK)},
	ReasonPacketIDNotFound:           {"Packet Identifier not found", in(PUBREL, PUBCOMP)},
	ReasonReceiveMaxExceeded:         {"Receive Maximum exceeded", in(DISCONNECT)},
	ReasonTopicAliasInvalid:          {"Topic Alias invalid", in(DISCONNECT)},
	ReasonPacketTooLarge:             {"Packet too large", in(CONNACK, DISCONNECT)},
	ReasonMessageRateTooHigh:         {"Message rate too high", in(DISCONNECT)},
	ReasonQuotaExceeded:              {"Quota exceeded", in(CONNACK, PUBACK, PUBREC, SUBACK, DISCONNECT)},
	ReasonAdminAction:                {"Administrative action", in(DISCONNECT)},
	ReasonPayloadFormatInvalid:       {"Payload format invalid", in(CONNACK, PUBACK, PUBREC, DISCONNECT)},
	ReasonRetainNotSupported:         {"Retain not supported", in(CONNACK, DISCONNECT)},
	ReasonQoSNotSupported:            {"QoS not supported", in(CONNACK, DISCONNECT)},
	ReasonUseAnotherServer:           {"Use another server", in(CONNACK, DISCONNECT)},
	ReasonServerMoved:                {"Server moved", in(CONNACK, DISCONNECT)},
	ReasonSharedSubsNotSupported:     {"Shared Subscriptions not supported", in(SUBACK, DISCONNECT)},
	ReasonConnectionRateExceeded:     {"Connection rate exceeded", in(CONNACK, DISCONNECT)},
	ReasonMaxConnectTime:             {"Maximum connect time", in(DISCONNECT)},
	ReasonSubIDsNotSupported:         {"Subscription Identifiers not supported", in(SUBACK, DISCONNECT)},
	ReasonWildcardSubsNotSupported:   {"Wildcard Subscriptions not supported", in(SUBACK, DISCONNECT)},
}

// String returns the human-readable description of the reason code.
func (r ReasonCode) String() string {
	if info, ok := reasonCodes[r]; ok {
		return info.name
	}
	return "Unknown reason code"
}

// IsError returns true if the reason code indicates an error (>= 0x80).
func (r ReasonCode) IsError() bool {
	return r >= 0x80
}

// ValidFor returns true if the reason code may appear in a packet of type t.
func (r ReasonCode) ValidFor(t PacketType) bool {
	info, ok := reasonCodes[r]
	return ok && info.valid&(1<<t) != 0
}
