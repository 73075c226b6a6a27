package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/ContactPipe/internal/models"
)

// Option payloads carried by selectable replies.
const (
	PayloadSourcePrefix = "source_"
	PayloadUpdate       = "duplicate_update"
	PayloadCreate       = "duplicate_create"
)

// Source is one category offered at the source step.
type Source struct {
	Value string
	Label string
}

// DefaultSources are the categories of the accountants database.
var DefaultSources = []Source{
	{Value: "Client", Label: "👥 Client"},
	{Value: "Prospect", Label: "🎯 Prospect"},
	{Value: "LinkedIn", Label: "💼 LinkedIn"},
	{Value: "Appel", Label: "📞 Appel"},
	{Value: "Autre", Label: "📋 Autre"},
}

// User-facing texts. Bodies use Telegram's legacy Markdown.
const (
	MsgAccessDenied = "❌ Accès refusé."

	msgWelcome = "🤖 *Bot Comptables*\n\n" +
		"Bienvenue ! Ce bot vous permet de gérer facilement votre base d'experts-comptables dans Notion.\n\n" +
		"*Commandes disponibles :*\n" +
		"• /add - Ajouter un nouveau comptable\n" +
		"• /find `<terme>` - Rechercher des comptables\n" +
		"• /help - Afficher l'aide\n" +
		"• /cancel - Annuler l'opération en cours\n\n" +
		"Tapez /add pour commencer à ajouter un comptable !"

	msgHelp = "📖 *Aide*\n\n" +
		"🆕 /add - Ajouter un comptable\n" +
		"Lance une conversation guidée pour ajouter un comptable à la base Notion.\n\n" +
		"🔍 /find `<terme>` - Rechercher\n" +
		"Exemple : `/find Paris` ou `/find martin@email.com`\n" +
		"Recherche dans les noms, villes, emails et contacts.\n\n" +
		"❌ /cancel - Annuler\n" +
		"Annule la conversation en cours.\n\n" +
		"*Fonctionnalités :*\n" +
		"• Validation automatique des emails et téléphones\n" +
		"• Détection des doublons\n" +
		"• Numéros normalisés au format international\n" +
		"• Lien direct vers les fiches Notion créées"

	msgCancelled = "❌ *Opération annulée*\n\n" +
		"Tapez /add pour recommencer ou /help pour voir les commandes disponibles."

	msgUnknownCommand = "❓ Commande inconnue.\n\nTapez /help pour voir les commandes disponibles."
	msgNoSession      = "💡 Aucune saisie en cours.\n\nTapez /add pour ajouter un comptable ou /help pour l'aide."
	msgExpired        = "⌛ Cette saisie n'est plus active.\n\nTapez /add pour recommencer."
	msgBusy           = "⏳ Enregistrement en cours, merci de patienter."

	msgAddHeader = "🏢 *Ajout d'un nouveau comptable*\n\n"

	promptName    = "Étape 1/7 : Quel est le *nom du cabinet* ?"
	promptContact = "👤 Étape 2/7 : Qui est le *contact principal* ?\n(Nom de la personne de contact)"
	promptEmail   = "📧 Étape 3/7 : Quelle est l'*adresse email* ?\n(Tapez - si inconnue)"
	promptPhone   = "📱 Étape 4/7 : Quel est le *numéro de téléphone* ?\n(Tapez - si inconnu)"
	promptCity    = "🏙️ Étape 5/7 : Dans quelle *ville* se trouve le cabinet ?"
	promptSource  = "📊 Étape 6/7 : Quelle est la *source* de ce contact ?"
	promptNotes   = "📝 Étape 7/7 : Avez-vous des *notes* à ajouter ?\n(Tapez - si aucune note)"

	msgTextExpected   = "Merci de répondre par un message texte."
	msgChooseSource   = "Merci de choisir une source parmi les options proposées."
	msgChooseDecision = "Merci de choisir une des deux options proposées."

	msgDedupFailed = "❌ *Erreur lors de la vérification des doublons*\n\n" +
		"Notion n'a pas pu être interrogé. La saisie a été annulée, tapez /add pour recommencer."
	msgCreateFailed = "❌ *Erreur lors de la création*\n\n" +
		"La fiche n'a pas pu être enregistrée dans Notion. Tapez /add pour recommencer."
	msgUpdateFailed = "❌ *Erreur lors de la mise à jour*\n\n" +
		"La fiche n'a pas pu être mise à jour dans Notion. Tapez /add pour recommencer."
	msgIncomplete = "❌ *Saisie incomplète*\n\nDes champs obligatoires manquent. Tapez /add pour recommencer."

	msgFindUsage = "🔍 *Recherche de comptables*\n\n" +
		"Usage : /find `<terme de recherche>`\n\n" +
		"Exemples :\n" +
		"• `/find Paris`\n" +
		"• `/find martin@email.com`\n" +
		"• `/find Dupont`"
	msgFindFailed = "❌ *Erreur lors de la recherche*\n\nVeuillez réessayer plus tard."
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown protects user-provided text inside a Markdown body.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func sourceOptions(sources []Source) []models.Option {
	opts := make([]models.Option, len(sources))
	for i, s := range sources {
		opts[i] = models.Option{Label: s.Label, Payload: PayloadSourcePrefix + s.Value}
	}
	return opts
}

func duplicateOptions() []models.Option {
	return []models.Option{
		{Label: "🔄 Mettre à jour", Payload: PayloadUpdate},
		{Label: "➕ Créer quand même", Payload: PayloadCreate},
	}
}

func duplicatePrompt(title string) string {
	return "⚠️ *Doublon détecté !*\n\n" +
		"Un comptable similaire existe déjà :\n" +
		"📋 *" + escapeMarkdown(title) + "*\n\n" +
		"Que souhaitez-vous faire ?"
}

func sourceSelected(source string) string {
	return "📊 Source sélectionnée : *" + escapeMarkdown(source) + "*"
}

func submitSuccess(action Action, fields models.Draft, url string) string {
	head := "✅ *Comptable créé avec succès !*"
	if action == ActionUpdate {
		head = "🔄 *Comptable mis à jour avec succès !*"
	}
	return fmt.Sprintf("%s\n\n📋 *%s*\n👤 Contact : %s\n🏙️ Ville : %s\n\n🔗 [Voir dans Notion](%s)",
		head,
		escapeMarkdown(fields.Get(models.FieldName)),
		escapeMarkdown(fields.Get(models.FieldContact)),
		escapeMarkdown(fields.Get(models.FieldCity)),
		url)
}

func findResults(query string, results []models.MatchCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 *Recherche : %s*\n\n", escapeMarkdown(query))
	if len(results) == 0 {
		b.WriteString("❌ Aucun résultat trouvé.\n\nEssayez avec d'autres termes (nom, ville, email, contact).")
		return b.String()
	}
	fmt.Fprintf(&b, "📋 *%d résultat(s) trouvé(s) :*\n", len(results))
	for i, r := range results {
		title := strings.NewReplacer("[", "(", "]", ")").Replace(r.Title)
		fmt.Fprintf(&b, "\n%d. [%s](%s)", i+1, escapeMarkdown(title), r.URL)
	}
	return b.String()
}

// reprompt prefixes a validation message to a step prompt.
func reprompt(reason, prompt string) string {
	return "❌ " + escapeMarkdown(reason) + "\n\n" + prompt
}
