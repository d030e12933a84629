// Package companies normalizes free-form user queries ("analyze meta",
// "TSLA outlook") to canonical company names for report generation.
package companies

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// mappings is the built-in lookup table, keyed by lower-case alias.
var mappings = map[string]string{
	"youtube":      "YouTube (Google)",
	"google":       "Google (Alphabet Inc.)",
	"alphabet":     "Alphabet Inc.",
	"meta":         "Meta Platforms Inc.",
	"facebook":     "Meta Platforms Inc.",
	"apple":        "Apple Inc.",
	"microsoft":    "Microsoft Corporation",
	"amazon":       "Amazon.com Inc.",
	"tesla":        "Tesla Inc.",
	"nvidia":       "NVIDIA Corporation",
	"netflix":      "Netflix Inc.",
	"spotify":      "Spotify Technology S.A.",
	"uber":         "Uber Technologies Inc.",
	"airbnb":       "Airbnb Inc.",
	"twitter":      "X (formerly Twitter)",
	"x":            "X (formerly Twitter)",
	"tiktok":       "TikTok (ByteDance)",
	"bytedance":    "ByteDance Ltd.",
	"snapchat":     "Snap Inc.",
	"snap":         "Snap Inc.",
	"pinterest":    "Pinterest Inc.",
	"linkedin":     "LinkedIn (Microsoft)",
	"salesforce":   "Salesforce Inc.",
	"oracle":       "Oracle Corporation",
	"ibm":          "IBM Corporation",
	"intel":        "Intel Corporation",
	"amd":          "Advanced Micro Devices Inc.",
	"qualcomm":     "Qualcomm Inc.",
	"cisco":        "Cisco Systems Inc.",
	"adobe":        "Adobe Inc.",
	"paypal":       "PayPal Holdings Inc.",
	"square":       "Block Inc.",
	"stripe":       "Stripe Inc.",
	"zoom":         "Zoom Video Communications Inc.",
	"slack":        "Slack Technologies Inc.",
	"dropbox":      "Dropbox Inc.",
	"box":          "Box Inc.",
	"atlassian":    "Atlassian Corporation",
	"servicenow":   "ServiceNow Inc.",
	"workday":      "Workday Inc.",
	"snowflake":    "Snowflake Inc.",
	"databricks":   "Databricks Inc.",
	"palantir":     "Palantir Technologies Inc.",
	"crowdstrike":  "CrowdStrike Holdings Inc.",
	"okta":         "Okta Inc.",
	"zendesk":      "Zendesk Inc.",
	"shopify":      "Shopify Inc.",
	"roku":         "Roku Inc.",
	"peloton":      "Peloton Interactive Inc.",
	"docu":         "DocuSign Inc.",
	"docusign":     "DocuSign Inc.",
	"twilio":       "Twilio Inc.",
	"sendgrid":     "Twilio Inc.",
	"mailchimp":    "Mailchimp (Intuit)",
	"hubspot":      "HubSpot Inc.",
	"monday":       "Monday.com Ltd.",
	"asana":        "Asana Inc.",
	"trello":       "Atlassian Corporation",
	"notion":       "Notion Labs Inc.",
	"airtable":     "Airtable Inc.",
	"figma":        "Figma Inc.",
	"canva":        "Canva Pty Ltd.",
	"grammarly":    "Grammarly Inc.",
	"lastpass":     "LogMeIn Inc.",
	"1password":    "1Password Inc.",
	"dashlane":     "Dashlane Inc.",
	"bitwarden":    "Bitwarden Inc.",
	"expressvpn":   "ExpressVPN (Kape Technologies)",
	"nordvpn":      "NordVPN (Nord Security)",
	"surfshark":    "Surfshark (Nord Security)",
	"proton":       "Proton AG",
	"protonmail":   "Proton AG",
	"protonvpn":    "Proton AG",
	"tutanota":     "Tutanota GmbH",
	"signal":       "Signal Foundation",
	"telegram":     "Telegram FZ-LLC",
	"whatsapp":     "WhatsApp (Meta)",
	"discord":      "Discord Inc.",
	"teams":        "Microsoft Teams (Microsoft)",
	"webex":        "Webex (Cisco)",
	"gotomeeting":  "GoTo Meeting (LogMeIn)",
	"bluejeans":    "BlueJeans (Verizon)",
	"jitsi":        "Jitsi (8x8)",
	"whereby":      "Whereby (Videxio AS)",
	"calendly":     "Calendly Inc.",
	"acuity":       "Acuity Scheduling Inc.",
	"doodle":       "Doodle AG",
	"when2meet":    "When2meet Inc.",
	"scheduleonce": "ScheduleOnce Inc.",
	"appointy":     "Appointy Inc.",
	"simplybook":   "SimplyBook.me Ltd.",
	"bookly":       "Bookly Inc.",
	"picktime":     "Picktime Inc.",
	"reservio":     "Reservio Inc.",
	"bookingbug":   "BookingBug Ltd.",
}

var (
	mu         sync.RWMutex
	aliasOrder []string
	titleCaser = cases.Title(language.Und)
)

func init() {
	rebuildOrder()
}

// rebuildOrder sorts aliases longest-first (ties lexicographic) so substring
// resolution is deterministic and prefers the most specific alias.
func rebuildOrder() {
	aliasOrder = make([]string, 0, len(mappings))
	for alias := range mappings {
		aliasOrder = append(aliasOrder, alias)
	}
	sort.Slice(aliasOrder, func(i, j int) bool {
		if len(aliasOrder[i]) != len(aliasOrder[j]) {
			return len(aliasOrder[i]) > len(aliasOrder[j])
		}
		return aliasOrder[i] < aliasOrder[j]
	})
}

// Normalize resolves a user query to a canonical company name.
//
// Lookup order: exact alias match, then substring match in either direction,
// then the title-cased query unchanged.
func Normalize(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))

	mu.RLock()
	defer mu.RUnlock()

	if name, ok := mappings[q]; ok {
		return name
	}

	for _, alias := range aliasOrder {
		if strings.Contains(q, alias) || strings.Contains(alias, q) {
			return mappings[alias]
		}
	}

	return titleCaser.String(strings.TrimSpace(query))
}

// overrideFile is the on-disk shape of a mapping override.
type overrideFile struct {
	Companies map[string]string `yaml:"companies"`
}

// LoadOverrides merges alias mappings from a YAML file into the built-in
// table. Keys are lower-cased; values replace existing entries. Called once
// at startup, before the engine starts serving.
func LoadOverrides(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read companies file: %w", err)
	}

	var f overrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("failed to parse companies file: %w", err)
	}
	if len(f.Companies) == 0 {
		return 0, nil
	}

	mu.Lock()
	defer mu.Unlock()
	for alias, name := range f.Companies {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias == "" || strings.TrimSpace(name) == "" {
			continue
		}
		mappings[alias] = strings.TrimSpace(name)
	}
	rebuildOrder()
	return len(f.Companies), nil
}
