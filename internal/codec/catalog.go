package codec

// Authorizing roles.
const (
	RoleAdmin        = "admin"
	RoleRelayer      = "relayer"
	RoleAdminRelayer = "admin or relayer"
	RolePublic       = "public"
)

// Account names shared by several methods.
const (
	AccountBridgeState              = "bridge_state"
	AccountVault                    = "vault"
	AccountMint                     = "mint"
	AccountAuthority                = "authority"
	AccountAuthorityTokenAccount    = "authority_token_account"
	AccountReceiverTokenAccount     = "receiver_token_account"
	AccountWhitelistEntry           = "whitelist_entry"
	AccountFeeMint                  = "fee_mint"
	AccountFeeCollector             = "fee_collector"
	AccountAuthorityFeeTokenAccount = "authority_fee_token_account"
	AccountFeeCollectorTokenAccount = "fee_collector_token_account"
	AccountSystemProgram            = "system_program"
	AccountTokenProgram             = "token_program"
	AccountAssociatedTokenProgram   = "associated_token_program"
)

// AccountSpec is one slot of a method's account list.
type AccountSpec struct {
	Name     string `json:"name"`
	Writable bool   `json:"writable"`
	Signer   bool   `json:"signer"`
	Optional bool   `json:"optional,omitempty"`
}

// ArgSpec is one argument in encoding order.
type ArgSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// MethodSpec describes everything a client must match for one method.
type MethodSpec struct {
	Name     string        `json:"name"`
	Role     string        `json:"role"`
	Accounts []AccountSpec `json:"accounts"`
	Args     []ArgSpec     `json:"args"`
	Event    string        `json:"event"`
}

// Selector returns the method's wire selector.
func (m MethodSpec) Selector() Selector {
	return SelectorOf(m.Name)
}

func w(name string) AccountSpec  { return AccountSpec{Name: name, Writable: true} }
func r(name string) AccountSpec  { return AccountSpec{Name: name} }
func ws(name string) AccountSpec { return AccountSpec{Name: name, Writable: true, Signer: true} }
func opt(a AccountSpec) AccountSpec {
	a.Optional = true
	return a
}

var (
	configAccounts = []AccountSpec{w(AccountBridgeState), ws(AccountAuthority), r(AccountSystemProgram)}

	vaultAccounts = []AccountSpec{
		w(AccountBridgeState), w(AccountVault), r(AccountMint), ws(AccountAuthority),
		r(AccountSystemProgram), r(AccountTokenProgram), r(AccountAssociatedTokenProgram),
	}

	liquidityAccounts = []AccountSpec{
		w(AccountBridgeState), w(AccountVault), ws(AccountAuthority), r(AccountMint),
		w(AccountAuthorityTokenAccount),
		r(AccountSystemProgram), r(AccountTokenProgram), r(AccountAssociatedTokenProgram),
	}

	whitelistAccounts = []AccountSpec{
		w(AccountWhitelistEntry), ws(AccountAuthority), w(AccountBridgeState), r(AccountSystemProgram),
	}

	amountArg       = []ArgSpec{{"amount", "u64"}}
	counterpartyArg = []ArgSpec{{"counterparty", "pubkey"}}
)

func toggle(name, role, event string) MethodSpec {
	return MethodSpec{Name: name, Role: role, Accounts: configAccounts, Event: event}
}

// Catalog lists every method in the order of Methods.
var Catalog = []MethodSpec{
	{
		Name: MethodInitializeContract, Role: RoleAdmin, Accounts: vaultAccounts,
		Args: []ArgSpec{
			{"relayer", "pubkey"}, {"fee_collector", "pubkey"}, {"fee_amount", "u64"},
			{"minimum_deposit", "u64"}, {"maximum_deposit", "u64"},
		},
		Event: "InitializeContractEvent",
	},
	{Name: MethodUpdateRelayer, Role: RoleAdmin, Accounts: configAccounts, Args: []ArgSpec{{"relayer", "pubkey"}}, Event: "UpdateRelayerEvent"},
	{Name: MethodUpdateFeeCollector, Role: RoleAdmin, Accounts: configAccounts, Args: []ArgSpec{{"fee_collector", "pubkey"}}, Event: "UpdateFeeCollectorEvent"},
	{Name: MethodUpdateWhitelistedMint, Role: RoleAdmin, Accounts: vaultAccounts, Event: "UpdateWhitelistedMintEvent"},
	{Name: MethodSetDepositLimits, Role: RoleAdmin, Accounts: configAccounts, Args: []ArgSpec{{"minimum", "u64"}, {"maximum", "u64"}}, Event: "DepositLimitsEvent"},
	{Name: MethodSetFeeAmount, Role: RoleAdmin, Accounts: configAccounts, Args: []ArgSpec{{"fee_amount", "u64"}}, Event: "FeeAmountEvent"},
	toggle(MethodRelayerPause, RoleAdminRelayer, "PauseEvent"),
	toggle(MethodRelayerUnpause, RoleAdminRelayer, "UnpauseEvent"),
	toggle(MethodPublicPause, RoleAdmin, "PauseEvent"),
	toggle(MethodPublicUnpause, RoleAdmin, "UnpauseEvent"),
	toggle(MethodSetWhitelistActive, RoleAdmin, "UnpauseEvent"),
	toggle(MethodSetWhitelistInactive, RoleAdmin, "PauseEvent"),
	{Name: MethodAddLiquidity, Role: RoleAdmin, Accounts: liquidityAccounts, Args: amountArg, Event: "AddLiquidityEvent"},
	{Name: MethodRemoveLiquidity, Role: RoleAdmin, Accounts: liquidityAccounts, Args: amountArg, Event: "RemoveLiquidityEvent"},
	{Name: MethodAddToWhitelist, Role: RoleAdmin, Accounts: whitelistAccounts, Args: counterpartyArg, Event: "AddToWhitelistEvent"},
	{Name: MethodRemoveFromWhitelist, Role: RoleAdmin, Accounts: whitelistAccounts, Args: counterpartyArg, Event: "RemoveFromWhitelistEvent"},
	{
		Name: MethodSendFromLiquidity, Role: RoleRelayer,
		Accounts: []AccountSpec{
			w(AccountBridgeState), w(AccountVault), ws(AccountAuthority), r(AccountMint),
			w(AccountReceiverTokenAccount),
			r(AccountSystemProgram), r(AccountTokenProgram), r(AccountAssociatedTokenProgram),
		},
		Args:  []ArgSpec{{"amount", "u64"}, {"receiver", "pubkey"}},
		Event: "SendFromLiquidityEvent",
	},
	{
		Name: MethodSendToLiquidity, Role: RolePublic,
		Accounts: []AccountSpec{
			w(AccountBridgeState), w(AccountVault), opt(r(AccountWhitelistEntry)), ws(AccountAuthority),
			r(AccountMint), w(AccountAuthorityTokenAccount),
			opt(r(AccountFeeMint)), opt(r(AccountFeeCollector)),
			opt(w(AccountAuthorityFeeTokenAccount)), opt(w(AccountFeeCollectorTokenAccount)),
			r(AccountSystemProgram), r(AccountTokenProgram), r(AccountAssociatedTokenProgram),
		},
		Args: []ArgSpec{
			{"amount", "u64"}, {"destination_address", "string"}, {"destination_address_signature", "string"},
		},
		Event: "SendToLiquidityEvent",
	},
}

var lookup = func() map[string]MethodSpec {
	m := make(map[string]MethodSpec, len(Catalog))
	for _, spec := range Catalog {
		m[spec.Name] = spec
	}
	return m
}()

// Lookup returns the MethodSpec for method.
func Lookup(method string) (MethodSpec, bool) {
	spec, ok := lookup[method]
	return spec, ok
}
