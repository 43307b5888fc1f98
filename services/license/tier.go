package license

// Unlimited marks a cap with no ceiling.
const Unlimited = -1

const (
	FeatureBasicAnalysis     = "basic_analysis"
	FeatureBasicReports      = "basic_reports"
	FeatureExportPDF         = "export_pdf"
	FeatureExportExcel       = "export_excel"
	FeatureAdvancedAnalytics = "advanced_analytics"
	FeatureWebhooks          = "webhooks"
	FeatureAPIAccess         = "api_access"
	FeatureMultiSite         = "multi_site"
	FeatureCustomBranding    = "custom_branding"
	FeaturePrioritySupport   = "priority_support"
)

// Tier is the entitlement a license type grants at issuance. Values are
// copied onto the license row, so editing this table never changes licenses
// that were already issued.
type Tier struct {
	Type     LicenseType
	Prefix   string
	MaxUsers int
	MaxLines int
	MaxPlans int
	Features []string
}

var tiers = map[LicenseType]Tier{
	Trial: {
		Type: Trial, Prefix: "TRI",
		MaxUsers: 5, MaxLines: 2, MaxPlans: 10,
		Features: []string{FeatureBasicAnalysis, FeatureBasicReports},
	},
	Standard: {
		Type: Standard, Prefix: "STA",
		MaxUsers: 20, MaxLines: 10, MaxPlans: 50,
		Features: []string{FeatureBasicAnalysis, FeatureBasicReports, FeatureExportPDF, FeatureExportExcel},
	},
	Professional: {
		Type: Professional, Prefix: "PRO",
		MaxUsers: 50, MaxLines: 30, MaxPlans: 200,
		Features: []string{
			FeatureBasicAnalysis, FeatureBasicReports, FeatureExportPDF, FeatureExportExcel,
			FeatureAdvancedAnalytics, FeatureWebhooks, FeatureAPIAccess,
		},
	},
	Enterprise: {
		Type: Enterprise, Prefix: "ENT",
		MaxUsers: Unlimited, MaxLines: Unlimited, MaxPlans: Unlimited,
		Features: []string{
			FeatureBasicAnalysis, FeatureBasicReports, FeatureExportPDF, FeatureExportExcel,
			FeatureAdvancedAnalytics, FeatureWebhooks, FeatureAPIAccess,
			FeatureMultiSite, FeatureCustomBranding, FeaturePrioritySupport,
		},
	},
}

// TierFor returns a copy of the tier definition for t.
func TierFor(t LicenseType) (Tier, bool) {
	tier, ok := tiers[t]
	if !ok {
		return Tier{}, false
	}
	tier.Features = append([]string(nil), tier.Features...)
	return tier, true
}

func AllTypes() []LicenseType {
	return []LicenseType{Trial, Standard, Professional, Enterprise}
}

// apply stamps caps and features onto m.
func (t Tier) apply(m *License) {
	m.MaxUsers = t.MaxUsers
	m.MaxLines = t.MaxLines
	m.MaxPlans = t.MaxPlans
	m.Features = append([]string(nil), t.Features...)
}
