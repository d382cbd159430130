package domain

import "fmt"

// MaxChunks bounds how many transactions one transfer may be split into.
const MaxChunks = 1000

// SplitAmount partitions amount into chunks no larger than ceiling:
// floor(amount/ceiling) chunks of exactly ceiling followed by one remainder
// chunk when amount is not a multiple of ceiling. It never yields a zero chunk.
func SplitAmount(amount, ceiling int64) ([]int64, error) {
	if amount <= 0 {
		return nil, NewValidationError("amount", "Qual valor você quer enviar?")
	}
	if ceiling <= 0 {
		return nil, NewValidationError("ceiling", "")
	}

	full := amount / ceiling
	rest := amount % ceiling

	n := full
	if rest > 0 {
		n++
	}
	if n > MaxChunks {
		return nil, &ValidationError{
			Field:    "amount",
			Question: fmt.Sprintf("Esse valor precisaria de mais de %d transações. Envie um valor menor.", MaxChunks),
		}
	}
	chunks := make([]int64, 0, n)
	for i := int64(0); i < full; i++ {
		chunks = append(chunks, ceiling)
	}
	if rest > 0 {
		chunks = append(chunks, rest)
	}
	return chunks, nil
}
