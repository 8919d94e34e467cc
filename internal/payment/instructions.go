package payment

import "strings"

const (
	MethodDragonpay = "dragonpay"
	MethodCOD       = "cod"
)

// IsOnline reports whether the method settles through the gateway before
// the order ships.
func IsOnline(method string) bool {
	return method == MethodDragonpay
}

func IsSupported(method string) bool {
	return method == MethodDragonpay || method == MethodCOD
}

var InstructionMap = map[string][]string{
	MethodCOD: {
		"Your order will be shipped to the address you provided",
		"Prepare {{amount}} in cash when the rider arrives",
		"Hand the payment directly to the rider and keep the receipt",
	},
	MethodDragonpay: {
		"You will be redirected to Dragonpay to complete payment of {{amount}}",
		"Choose an online banking, e-wallet or over-the-counter channel",
		"Over-the-counter payments may take a few hours to be confirmed",
		"Your order reference is {{order_code}}",
	},
}

func GetInstructions(method string) []string {
	if steps, ok := InstructionMap[method]; ok {
		return steps
	}

	return []string{
		"Follow the payment instructions shown on this page",
	}
}

type InstructionVars map[string]string

func InjectVariables(
	steps []string,
	vars InstructionVars,
) []string {
	result := make([]string, 0, len(steps))

	for _, step := range steps {
		updated := step
		for key, value := range vars {
			updated = strings.ReplaceAll(
				updated,
				"{{"+key+"}}",
				value,
			)
		}
		result = append(result, updated)
	}

	return result
}
