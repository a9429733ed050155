package workflow

import (
	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
)

// Workflow types registered by the portal modules.
const (
	TypeGestor                = "gestor"
	TypePreCadastro           = "pre_cadastro"
	TypeAlteracaoOrcamentaria = "alteracao_orcamentaria"
	TypePortaria              = "portaria"
	TypeDesignacao            = "designacao"
	TypeLicenca               = "licenca"
	TypeInscricao             = "inscricao"
)

// Roles referenced by the built-in tables.
const (
	RoleFinanceiro = "financeiro"
	RoleGabinete   = "gabinete"
	RoleRH         = "rh"
)

// BuiltinDefinitions returns the tables of every portal module.
func BuiltinDefinitions() []*domainwf.Definition {
	return []*domainwf.Definition{
		GestorDefinition(),
		PreCadastroDefinition(),
		AlteracaoOrcamentariaDefinition(),
		PortariaDefinition(),
		DesignacaoDefinition(),
		LicencaDefinition(),
		InscricaoDefinition(),
	}
}

// GestorDefinition is the school-manager credentialing workflow. A case is
// held by a single operator from the moment it is taken.
func GestorDefinition() *domainwf.Definition {
	b := domainwf.NewBuilder(TypeGestor).
		Statuses("aguardando", "em_processamento", "cadastrado_cbde", "contato_realizado", "confirmado", "cancelado").
		Initial("aguardando").
		Terminal("confirmado", "cancelado").
		SingleClaim()

	b.Configure("aguardando").
		Permit("assumir", "em_processamento", domainwf.Claims()).
		Permit("cancelar", "cancelado")

	// re-claiming keeps the status and trips the single-claim check for others
	b.Configure("em_processamento").
		Permit("assumir", "em_processamento", domainwf.Claims()).
		Permit("marcar_cadastrado_cbde", "cadastrado_cbde").
		Permit("cancelar", "cancelado")

	b.Configure("cadastrado_cbde").
		Permit("marcar_contato_realizado", "contato_realizado", domainwf.AssigneeOnly()).
		Permit("cancelar", "cancelado")

	b.Configure("contato_realizado").
		Permit("confirmar_acesso", "confirmado", domainwf.Derives(domainwf.StampNow("confirmado_em"))).
		Permit("cancelar", "cancelado")

	return b.MustBuild()
}

// PreCadastroDefinition is the curriculum pre-registration review.
func PreCadastroDefinition() *domainwf.Definition {
	b := domainwf.NewBuilder(TypePreCadastro).
		Statuses("aguardando", "em_analise", "pendente_ajuste", "aprovado", "rejeitado").
		Initial("aguardando").
		Terminal("aprovado", "rejeitado")

	b.Configure("aguardando").
		Permit("iniciar_analise", "em_analise", domainwf.Claims())

	b.Configure("em_analise").
		Permit("aprovar", "aprovado", domainwf.Derives(domainwf.StampNow("aprovado_em"), domainwf.RecordActor("aprovado_por"))).
		Permit("rejeitar", "rejeitado", domainwf.RequiresNote()).
		Permit("solicitar_ajuste", "pendente_ajuste", domainwf.RequiresNote())

	b.Configure("pendente_ajuste").
		Permit("reenviar", "aguardando")

	return b.MustBuild()
}

// AlteracaoOrcamentariaDefinition is the budget alteration approval chain.
func AlteracaoOrcamentariaDefinition() *domainwf.Definition {
	b := domainwf.NewBuilder(TypeAlteracaoOrcamentaria).
		Statuses("rascunho", "em_analise", "aprovada", "efetivada", "rejeitada", "excluida").
		Initial("rascunho").
		Terminal("efetivada", "rejeitada", "excluida")

	b.Configure("rascunho").
		Permit("enviar", "em_analise", domainwf.Requires("valor", "justificativa")).
		Permit("excluir", "excluida")

	b.Configure("em_analise").
		Permit("aprovar", "aprovada", domainwf.RestrictTo(RoleFinanceiro)).
		Permit("devolver", "rascunho", domainwf.RequiresNote()).
		Permit("rejeitar", "rejeitada", domainwf.RequiresNote(), domainwf.RestrictTo(RoleFinanceiro))

	b.Configure("aprovada").
		Permit("efetivar", "efetivada",
			domainwf.RestrictTo(RoleFinanceiro),
			domainwf.Derives(domainwf.StampNow("efetivada_em"), domainwf.RecordActor("efetivada_por")))

	return b.MustBuild()
}

// PortariaDefinition is the ordinance drafting and publication workflow.
func PortariaDefinition() *domainwf.Definition {
	b := domainwf.NewBuilder(TypePortaria).
		Statuses("rascunho", "em_revisao", "aprovada", "publicada", "revogada").
		Initial("rascunho").
		Terminal("publicada", "revogada")

	b.Configure("rascunho").
		Permit("enviar_revisao", "em_revisao")

	b.Configure("em_revisao").
		Permit("aprovar", "aprovada", domainwf.RestrictTo(RoleGabinete)).
		Permit("devolver", "rascunho", domainwf.RequiresNote())

	b.Configure("aprovada").
		Permit("publicar", "publicada",
			domainwf.Requires("numero", "data_publicacao"),
			domainwf.Derives(domainwf.StampNow("publicada_em"))).
		Permit("revogar", "revogada", domainwf.RequiresNote())

	return b.MustBuild()
}

// DesignacaoDefinition tracks a staff designation from request to end.
func DesignacaoDefinition() *domainwf.Definition {
	b := domainwf.NewBuilder(TypeDesignacao).
		Statuses("solicitada", "aprovada", "vigente", "encerrada", "indeferida").
		Initial("solicitada").
		Terminal("encerrada", "indeferida")

	b.Configure("solicitada").
		Permit("aprovar", "aprovada", domainwf.RestrictTo(RoleRH)).
		Permit("indeferir", "indeferida", domainwf.RequiresNote())

	b.Configure("aprovada").
		Permit("efetivar", "vigente", domainwf.Requires("data_inicio"))

	b.Configure("vigente").
		Permit("encerrar", "encerrada",
			domainwf.Requires("data_fim"),
			domainwf.Derives(domainwf.DaysBetween("dias", "data_inicio", "data_fim")))

	return b.MustBuild()
}

// LicencaDefinition tracks a leave of absence. Running leaves are closed by
// the scheduler once data_fim has passed.
func LicencaDefinition() *domainwf.Definition {
	b := domainwf.NewBuilder(TypeLicenca).
		Statuses("solicitada", "aprovada", "em_gozo", "encerrada", "indeferida", "cancelada").
		Initial("solicitada").
		Terminal("encerrada", "indeferida", "cancelada")

	b.Configure("solicitada").
		Permit("aprovar", "aprovada",
			domainwf.RestrictTo(RoleRH),
			domainwf.Requires("data_inicio", "data_fim"),
			domainwf.Derives(domainwf.DaysBetween("dias", "data_inicio", "data_fim"))).
		Permit("indeferir", "indeferida", domainwf.RequiresNote())

	b.Configure("aprovada").
		Permit("iniciar_gozo", "em_gozo").
		Permit("cancelar", "cancelada", domainwf.RequiresNote())

	b.Configure("em_gozo").
		Permit("encerrar", "encerrada")

	return b.MustBuild()
}

// InscricaoDefinition is an event registration with on-site check-in.
func InscricaoDefinition() *domainwf.Definition {
	b := domainwf.NewBuilder(TypeInscricao).
		Statuses("inscrito", "confirmado", "presente", "cancelado").
		Initial("inscrito").
		Terminal("presente", "cancelado")

	b.Configure("inscrito").
		Permit("confirmar", "confirmado").
		Permit("cancelar", "cancelado")

	b.Configure("confirmado").
		Permit("marcar_presenca", "presente", domainwf.Derives(
			domainwf.SetFlag("presente", true),
			domainwf.StampNow("presente_em"),
			domainwf.RecordActor("checkin_por"),
		)).
		Permit("cancelar", "cancelado")

	return b.MustBuild()
}
