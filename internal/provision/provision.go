package provision

import (
	"context"
	"fmt"
	"log"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	trunking "github.com/twilio/twilio-go/rest/trunking/v1"
)

// trunkAPI is the slice of Twilio's trunking API the provisioner uses.
type trunkAPI interface {
	ListTrunk(params *trunking.ListTrunkParams) ([]trunking.TrunkingV1Trunk, error)
	CreateTrunk(params *trunking.CreateTrunkParams) (*trunking.TrunkingV1Trunk, error)
	CreateOriginationUrl(trunkSid string, params *trunking.CreateOriginationUrlParams) (*trunking.TrunkingV1OriginationUrl, error)
	CreatePhoneNumber(trunkSid string, params *trunking.CreatePhoneNumberParams) (*trunking.TrunkingV1PhoneNumber, error)
}

// numberAPI looks up purchased Twilio numbers.
type numberAPI interface {
	ListIncomingPhoneNumber(params *twilioapi.ListIncomingPhoneNumberParams) ([]twilioapi.ApiV2010IncomingPhoneNumber, error)
}

// sipAdmin is the slice of the room provider's SIP admin API the provisioner
// uses.
type sipAdmin interface {
	CreateSIPInboundTrunk(ctx context.Context, in *livekit.CreateSIPInboundTrunkRequest) (*livekit.SIPInboundTrunkInfo, error)
	ListSIPInboundTrunk(ctx context.Context, in *livekit.ListSIPInboundTrunkRequest) (*livekit.ListSIPInboundTrunkResponse, error)
	CreateSIPOutboundTrunk(ctx context.Context, in *livekit.CreateSIPOutboundTrunkRequest) (*livekit.SIPOutboundTrunkInfo, error)
	ListSIPOutboundTrunk(ctx context.Context, in *livekit.ListSIPOutboundTrunkRequest) (*livekit.ListSIPOutboundTrunkResponse, error)
	CreateSIPDispatchRule(ctx context.Context, in *livekit.CreateSIPDispatchRuleRequest) (*livekit.SIPDispatchRuleInfo, error)
	ListSIPDispatchRule(ctx context.Context, in *livekit.ListSIPDispatchRuleRequest) (*livekit.ListSIPDispatchRuleResponse, error)
}

// Provisioner connects a Twilio elastic SIP trunk to the room provider's SIP
// service so calls route into inbound_* rooms and outbound dials can leave
// through the trunk. All Ensure methods are idempotent: existing resources
// are found by name and reused.
type Provisioner struct {
	trunks  trunkAPI
	numbers numberAPI
	sip     sipAdmin
	phone   string
}

// New builds a Provisioner from real clients.
func New(tw *twilio.RestClient, sip *lksdk.SIPClient, phoneNumber string) *Provisioner {
	return &Provisioner{trunks: tw.TrunkingV1, numbers: tw.Api, sip: sip, phone: phoneNumber}
}

func newWithClients(trunks trunkAPI, numbers numberAPI, sip sipAdmin, phone string) *Provisioner {
	return &Provisioner{trunks: trunks, numbers: numbers, sip: sip, phone: phone}
}

// EnsureTwilioTrunk finds or creates the Twilio trunk, points its origination
// at the provider SIP URI, and associates the service phone number.
func (p *Provisioner) EnsureTwilioTrunk(ctx context.Context, friendlyName, domainName, sipURI string) (string, error) {
	existing, err := p.trunks.ListTrunk(&trunking.ListTrunkParams{})
	if err != nil {
		return "", fmt.Errorf("provision: list twilio trunks: %w", err)
	}
	for _, t := range existing {
		if t.FriendlyName != nil && *t.FriendlyName == friendlyName && t.Sid != nil {
			log.Printf("provision: reusing twilio trunk %s (%s)", friendlyName, *t.Sid)
			return *t.Sid, nil
		}
	}

	createParams := &trunking.CreateTrunkParams{}
	createParams.SetFriendlyName(friendlyName)
	createParams.SetDomainName(domainName)
	trunk, err := p.trunks.CreateTrunk(createParams)
	if err != nil {
		return "", fmt.Errorf("provision: create twilio trunk: %w", err)
	}
	if trunk.Sid == nil {
		return "", fmt.Errorf("provision: twilio returned trunk without sid")
	}
	sid := *trunk.Sid
	log.Printf("provision: created twilio trunk %s (%s)", friendlyName, sid)

	origParams := &trunking.CreateOriginationUrlParams{}
	origParams.SetFriendlyName(friendlyName + "-origination")
	origParams.SetSipUrl(sipURI)
	origParams.SetWeight(1)
	origParams.SetPriority(1)
	origParams.SetEnabled(true)
	if _, err := p.trunks.CreateOriginationUrl(sid, origParams); err != nil {
		return "", fmt.Errorf("provision: create origination url: %w", err)
	}

	if err := p.attachPhoneNumber(sid); err != nil {
		return "", err
	}
	return sid, nil
}

func (p *Provisioner) attachPhoneNumber(trunkSid string) error {
	listParams := &twilioapi.ListIncomingPhoneNumberParams{}
	listParams.SetPhoneNumber(p.phone)
	nums, err := p.numbers.ListIncomingPhoneNumber(listParams)
	if err != nil {
		return fmt.Errorf("provision: look up phone number %s: %w", p.phone, err)
	}
	if len(nums) == 0 || nums[0].Sid == nil {
		return fmt.Errorf("provision: phone number %s not found in twilio account", p.phone)
	}
	assoc := &trunking.CreatePhoneNumberParams{}
	assoc.SetPhoneNumberSid(*nums[0].Sid)
	if _, err := p.trunks.CreatePhoneNumber(trunkSid, assoc); err != nil {
		return fmt.Errorf("provision: attach phone number to trunk: %w", err)
	}
	log.Printf("provision: attached %s to trunk %s", p.phone, trunkSid)
	return nil
}

// EnsureInboundTrunk finds or creates the provider-side inbound trunk that
// accepts calls to the service number.
func (p *Provisioner) EnsureInboundTrunk(ctx context.Context, name string) (string, error) {
	resp, err := p.sip.ListSIPInboundTrunk(ctx, &livekit.ListSIPInboundTrunkRequest{})
	if err != nil {
		return "", fmt.Errorf("provision: list inbound trunks: %w", err)
	}
	for _, t := range resp.Items {
		if t.Name == name {
			log.Printf("provision: reusing inbound trunk %s (%s)", name, t.SipTrunkId)
			return t.SipTrunkId, nil
		}
	}
	trunk, err := p.sip.CreateSIPInboundTrunk(ctx, &livekit.CreateSIPInboundTrunkRequest{
		Trunk: &livekit.SIPInboundTrunkInfo{
			Name:    name,
			Numbers: []string{p.phone},
		},
	})
	if err != nil {
		return "", fmt.Errorf("provision: create inbound trunk: %w", err)
	}
	log.Printf("provision: created inbound trunk %s (%s)", name, trunk.SipTrunkId)
	return trunk.SipTrunkId, nil
}

// EnsureOutboundTrunk finds or creates the provider-side outbound trunk used
// to place calls through Twilio.
func (p *Provisioner) EnsureOutboundTrunk(ctx context.Context, name, address, authUser, authPass string) (string, error) {
	resp, err := p.sip.ListSIPOutboundTrunk(ctx, &livekit.ListSIPOutboundTrunkRequest{})
	if err != nil {
		return "", fmt.Errorf("provision: list outbound trunks: %w", err)
	}
	for _, t := range resp.Items {
		if t.Name == name {
			log.Printf("provision: reusing outbound trunk %s (%s)", name, t.SipTrunkId)
			return t.SipTrunkId, nil
		}
	}
	trunk, err := p.sip.CreateSIPOutboundTrunk(ctx, &livekit.CreateSIPOutboundTrunkRequest{
		Trunk: &livekit.SIPOutboundTrunkInfo{
			Name:         name,
			Address:      address,
			Numbers:      []string{p.phone},
			AuthUsername: authUser,
			AuthPassword: authPass,
		},
	})
	if err != nil {
		return "", fmt.Errorf("provision: create outbound trunk: %w", err)
	}
	log.Printf("provision: created outbound trunk %s (%s)", name, trunk.SipTrunkId)
	return trunk.SipTrunkId, nil
}

// inboundRoomPrefix routes each caller into their own inbound_* room, which
// is where the agent worker picks the call up.
const inboundRoomPrefix = "inbound"

// EnsureDispatchRule finds or creates the dispatch rule that places inbound
// callers into individual inbound_* rooms.
func (p *Provisioner) EnsureDispatchRule(ctx context.Context, trunkID string) (string, error) {
	resp, err := p.sip.ListSIPDispatchRule(ctx, &livekit.ListSIPDispatchRuleRequest{})
	if err != nil {
		return "", fmt.Errorf("provision: list dispatch rules: %w", err)
	}
	for _, r := range resp.Items {
		if individual := r.GetRule().GetDispatchRuleIndividual(); individual != nil && individual.RoomPrefix == inboundRoomPrefix {
			log.Printf("provision: reusing dispatch rule %s", r.SipDispatchRuleId)
			return r.SipDispatchRuleId, nil
		}
	}
	rule, err := p.sip.CreateSIPDispatchRule(ctx, &livekit.CreateSIPDispatchRuleRequest{
		Name:     "inbound-individual",
		TrunkIds: []string{trunkID},
		Rule: &livekit.SIPDispatchRule{
			Rule: &livekit.SIPDispatchRule_DispatchRuleIndividual{
				DispatchRuleIndividual: &livekit.SIPDispatchRuleIndividual{
					RoomPrefix: inboundRoomPrefix,
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("provision: create dispatch rule: %w", err)
	}
	log.Printf("provision: created dispatch rule %s", rule.SipDispatchRuleId)
	return rule.SipDispatchRuleId, nil
}

// Result summarizes one full provisioning run.
type Result struct {
	TwilioTrunkSID  string
	InboundTrunkID  string
	OutboundTrunkID string
	DispatchRuleID  string
}

// Setup runs the full provisioning sequence.
func (p *Provisioner) Setup(ctx context.Context, friendlyName, domainName, sipURI, outboundAddress, authUser, authPass string) (Result, error) {
	var res Result
	var err error

	if res.TwilioTrunkSID, err = p.EnsureTwilioTrunk(ctx, friendlyName, domainName, sipURI); err != nil {
		return res, err
	}
	if res.InboundTrunkID, err = p.EnsureInboundTrunk(ctx, friendlyName+"-inbound"); err != nil {
		return res, err
	}
	if res.OutboundTrunkID, err = p.EnsureOutboundTrunk(ctx, friendlyName+"-outbound", outboundAddress, authUser, authPass); err != nil {
		return res, err
	}
	if res.DispatchRuleID, err = p.EnsureDispatchRule(ctx, res.InboundTrunkID); err != nil {
		return res, err
	}
	return res, nil
}
