package shared

// WalletType scopes a partner's wallet
type WalletType string

const (
	WalletTypePrimary WalletType = "primary"
	WalletTypeAEPS    WalletType = "aeps"
)

// Valid reports whether the wallet type is known
func (t WalletType) Valid() bool {
	return t == WalletTypePrimary || t == WalletTypeAEPS
}

// FundCategory classifies the money moved by a ledger entry
type FundCategory string

const (
	FundCategoryCash       FundCategory = "cash"
	FundCategoryOnline     FundCategory = "online"
	FundCategoryCommission FundCategory = "commission"
	FundCategorySettlement FundCategory = "settlement"
)

// Valid reports whether the fund category is known
func (c FundCategory) Valid() bool {
	switch c {
	case FundCategoryCash, FundCategoryOnline, FundCategoryCommission, FundCategorySettlement:
		return true
	}
	return false
}

// ServiceType identifies the business service that originated a money movement
type ServiceType string

const (
	ServiceTypeBBPS       ServiceType = "bbps"
	ServiceTypePayout     ServiceType = "payout"
	ServiceTypePOS        ServiceType = "pos"
	ServiceTypeAEPS       ServiceType = "aeps"
	ServiceTypeDMT        ServiceType = "dmt"
	ServiceTypeAdmin      ServiceType = "admin"
	ServiceTypeTransfer   ServiceType = "transfer"
	ServiceTypeSettlement ServiceType = "settlement"
)

// Valid reports whether the service type is known
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceTypeBBPS, ServiceTypePayout, ServiceTypePOS, ServiceTypeAEPS,
		ServiceTypeDMT, ServiceTypeAdmin, ServiceTypeTransfer, ServiceTypeSettlement:
		return true
	}
	return false
}

// PartnerRole is a partner's position in the distribution hierarchy
type PartnerRole string

const (
	RoleRetailer          PartnerRole = "retailer"
	RoleDistributor       PartnerRole = "distributor"
	RoleMasterDistributor PartnerRole = "master_distributor"
	RoleAdmin             PartnerRole = "admin"
)

// Valid reports whether the role is known
func (r PartnerRole) Valid() bool {
	switch r {
	case RoleRetailer, RoleDistributor, RoleMasterDistributor, RoleAdmin:
		return true
	}
	return false
}

// OutboxStatus defines message publishing states
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusProcessed       OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPublish OutboxStatus = "FAILED_TO_PUBLISH"
)
