package main

import (
	"context"
	"flag"
	"log"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twilio/twilio-go"

	"github.com/vinesh178/customer-service-agent/internal/config"
	"github.com/vinesh178/customer-service-agent/internal/provision"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	name := flag.String("name", "service-agent", "friendly name for the trunk resources")
	domain := flag.String("domain", "", "twilio trunk termination domain (defaults to <name>.pstn.twilio.com)")
	sipURI := flag.String("sip-uri", "", "provider SIP URI for inbound origination, e.g. sip:xxxx.sip.livekit.cloud")
	authUser := flag.String("auth-user", "", "outbound trunk auth username")
	authPass := flag.String("auth-pass", "", "outbound trunk auth password")
	flag.Parse()

	if *sipURI == "" {
		log.Fatal("--sip-uri is required (your provider's SIP endpoint)")
	}
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		log.Fatal("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required")
	}
	if cfg.SIPPhoneNumber == "" {
		log.Fatal("SIP_PHONE_NUMBER is required")
	}
	if *domain == "" {
		*domain = *name + ".pstn.twilio.com"
	}

	tw := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	sip := lksdk.NewSIPClient(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)

	p := provision.New(tw, sip, cfg.SIPPhoneNumber)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := p.Setup(ctx, *name, *domain, *sipURI, *domain, *authUser, *authPass)
	if err != nil {
		log.Fatalf("provisioning failed: %v", err)
	}

	log.Printf("twilio trunk:        %s", res.TwilioTrunkSID)
	log.Printf("inbound trunk:       %s", res.InboundTrunkID)
	log.Printf("outbound trunk:      %s", res.OutboundTrunkID)
	log.Printf("dispatch rule:       %s", res.DispatchRuleID)
	log.Printf("set SIP_TRUNK_ID=%s for the call server", res.OutboundTrunkID)
}
