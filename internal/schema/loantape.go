package schema

// LoanTapeFieldSpecs defines the target fields for a loan tape import.
// Only the loan number is required; every other field is loaded when the
// tape provides it and left null otherwise.
var LoanTapeFieldSpecs = []FieldSpec{
	{
		Name:        LoanNumberField,
		Type:        FieldText,
		Required:    true,
		Description: "Unique loan identifier assigned by the seller or servicer",
		Aliases:     []string{"loan id", "loan #", "loan no", "account number", "asset id", "servicer loan number"},
	},
	{
		Name:        "borrower_name",
		Type:        FieldText,
		Description: "Primary borrower full name",
		Aliases:     []string{"borrower", "borrower full name", "mortgagor"},
	},
	{
		Name:        "property_address",
		Type:        FieldText,
		Description: "Street address of the collateral property",
		Aliases:     []string{"address", "street address", "property street"},
	},
	{
		Name:        "property_city",
		Type:        FieldText,
		Description: "City of the collateral property",
		Aliases:     []string{"city"},
	},
	{
		Name:        "property_state",
		Type:        FieldState,
		Description: "US state of the collateral property, two-letter code",
		Aliases:     []string{"state", "st", "property st", "jurisdiction"},
		Normalizer:  NormalizeUsState,
	},
	{
		Name:        "property_zip",
		Type:        FieldText,
		Description: "Postal code of the collateral property",
		Aliases:     []string{"zip", "zip code", "postal code"},
	},
	{
		Name:        "property_type",
		Type:        FieldText,
		Description: "Collateral property type, e.g. SFR, condo, multi-family",
		Aliases:     []string{"prop type", "collateral type"},
	},
	{
		Name:        "original_balance",
		Type:        FieldCurrency,
		Description: "Original loan amount at origination",
		Aliases:     []string{"orig balance", "original upb", "orig upb", "original loan amount"},
	},
	{
		Name:        CurrentBalanceField,
		Type:        FieldCurrency,
		Description: "Current unpaid principal balance",
		Aliases:     []string{"upb", "current upb", "unpaid principal balance", "principal balance"},
	},
	{
		Name:        AccruedInterestField,
		Type:        FieldCurrency,
		Description: "Interest accrued and unpaid as of the tape date",
		Aliases:     []string{"accrued int", "interest accrued", "interest arrears"},
	},
	{
		Name:        AdvancesField,
		Type:        FieldCurrency,
		Description: "Servicer and corporate advances outstanding",
		Aliases:     []string{"servicer advances", "total advances", "corporate advances"},
	},
	{
		Name:        "interest_rate",
		Type:        FieldRate,
		Description: "Current note interest rate as a percentage",
		Aliases:     []string{"rate", "note rate", "coupon", "int rate"},
	},
	{
		Name:        "origination_date",
		Type:        FieldDate,
		Description: "Date the loan was originated",
		Aliases:     []string{"orig date", "note date", "origination"},
	},
	{
		Name:        "maturity_date",
		Type:        FieldDate,
		Description: "Date the loan matures",
		Aliases:     []string{"maturity"},
	},
	{
		Name:        NextDueDateField,
		Type:        FieldDate,
		Description: "Next payment due date; drives delinquency",
		Aliases:     []string{"next due", "due date", "next payment due"},
	},
	{
		Name:        "last_paid_date",
		Type:        FieldDate,
		Description: "Date through which the loan is paid",
		Aliases:     []string{"paid to date", "paid through", "last payment date"},
	},
	{
		Name:        "lien_position",
		Type:        FieldInt,
		Description: "Lien position of the loan, 1 for first lien",
		Aliases:     []string{"lien", "lien pos", "position"},
	},
	{
		Name:        "bankruptcy_flag",
		Type:        FieldBool,
		Description: "Whether the borrower is in active bankruptcy",
		Aliases:     []string{"bk", "bankruptcy", "in bankruptcy", "bk flag"},
	},
	{
		Name:        "foreclosure_flag",
		Type:        FieldBool,
		Description: "Whether the loan is in active foreclosure",
		Aliases:     []string{"fc", "foreclosure", "in foreclosure", "fc flag"},
	},
	{
		Name:        "bpo_value",
		Type:        FieldCurrency,
		Description: "Most recent property valuation (BPO or appraisal)",
		Aliases:     []string{"bpo", "property value", "current value", "appraisal value"},
	},
	{
		Name:        "bpo_date",
		Type:        FieldDate,
		Description: "Date of the most recent property valuation",
		Aliases:     []string{"value date", "valuation date"},
	},
	{
		Name:        TotalDebtField,
		Type:        FieldCurrency,
		Description: "Current balance plus accrued interest plus advances",
		Derived:     true,
	},
	{
		Name:        DelinquencyMonthsField,
		Type:        FieldInt,
		Description: "Whole months past due relative to the as-of date",
		Derived:     true,
	},
}
