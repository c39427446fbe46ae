package hypervisor_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomguard/engine/internal/hypervisor"
	"github.com/axiomguard/engine/internal/model"
)

func fixedVocab(words ...string) hypervisor.VocabMap {
	decode := func(id int32) (string, error) {
		if int(id) >= len(words) {
			return "", fmt.Errorf("out of range")
		}
		return words[id], nil
	}
	return hypervisor.NewVocabMap(int32(len(words)), decode)
}

func TestCalculateLogitBiasBoostsTrueAxiomCompletion(t *testing.T) {
	h := hypervisor.New(0, 0)
	h.SyncAxioms(model.AxiomPool{"the earth is round": model.PolarityTrue})

	vocab := fixedVocab("round", "flat")
	bias := h.CalculateLogitBias("the earth is ", vocab)

	require.NotNil(t, bias)
	assert.Positive(t, bias[vocab["round"]])
	assert.NotContains(t, bias, vocab["flat"])
}

func TestCalculateLogitBiasVetoesFalseAxiomCompletion(t *testing.T) {
	h := hypervisor.New(0, 0)
	h.SyncAxioms(model.AxiomPool{"the earth is flat": model.PolarityFalse})

	vocab := fixedVocab("flat", "round")
	bias := h.CalculateLogitBias("the earth is ", vocab)

	require.NotNil(t, bias)
	assert.Negative(t, bias[vocab["flat"]])
	assert.NotContains(t, bias, vocab["round"])
}

func TestCalculateLogitBiasTrueWinsTiesWithFalse(t *testing.T) {
	h := hypervisor.New(0, 0)
	pool, conflicts := model.NewAxiomPool(
		[]model.Node{{Statement: "cats are pets"}},
		[]string{"cats are pets"},
	)
	h.SyncAxioms(pool)
	h.SetConflicts(conflicts)

	vocab := fixedVocab("pets")
	bias := h.CalculateLogitBias("cats are ", vocab)

	require.NotEmpty(t, bias)
	assert.Positive(t, bias[vocab["pets"]], "TRUE must win a tie against a FALSE antibody on the same text")
}

func TestCalculateLogitBiasReturnsNilWithNoAxioms(t *testing.T) {
	h := hypervisor.New(0, 0)
	bias := h.CalculateLogitBias("anything", fixedVocab("token"))
	assert.Nil(t, bias)
}
