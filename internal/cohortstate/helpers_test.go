package cohortstate

import "utxo-cohort-lab/internal/cohort"

func cohortDef(family, name string) cohort.Def {
	return cohort.Def{Family: cohort.Family(family), Name: name}
}
