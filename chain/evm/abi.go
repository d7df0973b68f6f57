package evm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract surface used by the gateway.
const (
	methodCreateBill          = "createBill"
	methodPayWithNative       = "payBillWithNative"
	methodPayWithToken        = "payBillWithU2K"
	methodReject              = "rejectBill"
	methodGetBill             = "getBill"
	methodBeneficiaryBills    = "getBeneficiaryBills"
	methodSponsorBills        = "getSponsorBills"
	methodSponsorTokenBalance = "getSponsorTokenBalance"
	methodBalanceOf           = "balanceOf"

	eventBillCreated = "BillCreated"
)

// DefaultPaymentABI is the bill payment contract interface.
const DefaultPaymentABI = `[
  {"type":"function","name":"createBill","stateMutability":"nonpayable",
   "inputs":[{"name":"beneficiary","type":"address"},{"name":"sponsor","type":"address"},{"name":"paymentDestination","type":"address"},{"name":"amount","type":"uint256"},{"name":"description","type":"string"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"payBillWithNative","stateMutability":"payable",
   "inputs":[{"name":"billId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"payBillWithU2K","stateMutability":"nonpayable",
   "inputs":[{"name":"billId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"rejectBill","stateMutability":"nonpayable",
   "inputs":[{"name":"billId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getBill","stateMutability":"view",
   "inputs":[{"name":"billId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"id","type":"uint256"},{"name":"beneficiary","type":"address"},{"name":"paymentDestination","type":"address"},
     {"name":"sponsor","type":"address"},{"name":"amount","type":"uint256"},{"name":"description","type":"string"},
     {"name":"status","type":"uint8"},{"name":"createdAt","type":"uint256"},{"name":"paidAt","type":"uint256"}]}]},
  {"type":"function","name":"getBeneficiaryBills","stateMutability":"view",
   "inputs":[{"name":"beneficiary","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getSponsorBills","stateMutability":"view",
   "inputs":[{"name":"sponsor","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getSponsorTokenBalance","stateMutability":"view",
   "inputs":[{"name":"sponsor","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"BillCreated","anonymous":false,
   "inputs":[{"name":"billId","type":"uint256","indexed":true},{"name":"beneficiary","type":"address","indexed":true},
     {"name":"sponsor","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"BillPaid","anonymous":false,
   "inputs":[{"name":"billId","type":"uint256","indexed":true},{"name":"sponsor","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"BillRejected","anonymous":false,
   "inputs":[{"name":"billId","type":"uint256","indexed":true}]}
]`

// DefaultTokenABI is the subset of the ERC-20 interface the gateway reads.
const DefaultTokenABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// LoadABI parses a contract ABI given either as a JSON array or as a
// compiler artifact carrying it under "abi".
func LoadABI(data []byte) (abi.ABI, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return abi.ABI{}, errors.New("evm: empty ABI")
	}

	if data[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(data, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("evm: parse artifact: %w", err)
		}
		if len(artifact.ABI) == 0 || bytes.TrimSpace(artifact.ABI)[0] != '[' {
			return abi.ABI{}, errors.New("evm: artifact has no abi array")
		}
		data = artifact.ABI
	}

	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("evm: parse abi: %w", err)
	}
	return parsed, nil
}

// checkPaymentABI verifies the methods and event the gateway calls exist.
func checkPaymentABI(a abi.ABI) error {
	var missing []string
	for _, m := range []string{
		methodCreateBill, methodPayWithNative, methodPayWithToken, methodReject,
		methodGetBill, methodBeneficiaryBills, methodSponsorBills, methodSponsorTokenBalance,
	} {
		if _, ok := a.Methods[m]; !ok {
			missing = append(missing, m)
		}
	}
	if _, ok := a.Events[eventBillCreated]; !ok {
		missing = append(missing, "event "+eventBillCreated)
	}
	if len(missing) > 0 {
		return fmt.Errorf("evm: payment abi lacks %s", strings.Join(missing, ", "))
	}

	if n := len(a.Methods[methodCreateBill].Inputs); n != 4 && n != 5 {
		return fmt.Errorf("evm: %s must take 4 or 5 inputs, has %d", methodCreateBill, n)
	}
	return nil
}

func loadOrDefault(override, fallback string) (abi.ABI, error) {
	if strings.TrimSpace(override) == "" {
		return LoadABI([]byte(fallback))
	}
	return LoadABI([]byte(override))
}
