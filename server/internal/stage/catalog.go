package stage

import (
	"fmt"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/model"
)

// 支持的界面语言。es-AR 是机器人的母语，缺译一律回退到它。
const (
	LocaleESAR = "es-AR"
	LocaleESES = "es-ES"
	LocaleEN   = "en"
)

// 回复文案的键。处理器通过键取文案，不内联字符串。
const (
	msgGreeting        = "greeting"
	msgAskName         = "askName"
	msgAskNameRetry    = "askNameRetry"
	msgAskConsent      = "askConsent"
	msgAskConsentAnon  = "askConsentAnon"
	msgAskNeed         = "askNeed"
	msgDescribeProblem = "describeProblem"
	msgDescribeTask    = "describeTask"
	msgAskDevice       = "askDevice"
	msgAssistIntro     = "assistIntro"
	msgAssistContinue  = "assistContinue"
	msgAskResolved     = "askResolved"
	msgOfferTicket     = "offerTicket"
	msgClosedSolved    = "closedSolved"
	msgClosedNoTicket  = "closedNoTicket"
	msgAskEmail        = "askEmail"
	msgAskEmailRetry   = "askEmailRetry"
	msgAskPhone        = "askPhone"
	msgAskPhoneRetry   = "askPhoneRetry"
	msgTicketCreated   = "ticketCreated"
	msgHandoff         = "handoff"
	msgRejected        = "rejected"
	msgSafeRetry       = "safeRetry"
)

var replies = map[string]map[string]string{
	LocaleESAR: {
		msgGreeting:        "¡Hola! Soy el asistente de STI Rosario. Elegí tu idioma / Elige tu idioma / Choose your language:",
		msgAskName:         "¡Perfecto! ¿Cómo te llamás? Si preferís, podés seguir sin decirme tu nombre.",
		msgAskNameRetry:    "No me quedó claro tu nombre. Escribilo de nuevo (solo el nombre, sin números) o tocá el botón para seguir sin nombre.",
		msgAskConsent:      "¡Un gusto, %s! Antes de seguir necesito tu consentimiento para guardar los datos de esta conversación y poder ayudarte mejor.",
		msgAskConsentAnon:  "¡Perfecto! Antes de seguir necesito tu consentimiento para guardar los datos de esta conversación y poder ayudarte mejor.",
		msgAskNeed:         "¿En qué te puedo ayudar hoy?",
		msgDescribeProblem: "Contame qué está pasando con tu equipo. Cuantos más detalles me des, mejor te voy a poder ayudar.",
		msgDescribeTask:    "Contame qué necesitás hacer y con qué programa o equipo, así vemos cómo encararlo.",
		msgAskDevice:       "¿Con qué equipo estás teniendo el problema? Decime la marca y el modelo si los sabés.",
		msgAssistIntro:     "Gracias por los datos. Probemos algunas cosas básicas: reiniciá el equipo, fijate que los cables estén bien conectados y contame si cambia algo.",
		msgAssistContinue:  "Entiendo. Probá los pasos que te sugerí y avisame cómo te fue, o elegí una de las opciones.",
		msgAskResolved:     "¡Genial! ¿Con eso se solucionó el problema?",
		msgOfferTicket:     "Lamento que siga sin funcionar. ¿Querés que genere un ticket para que un técnico revise tu caso?",
		msgClosedSolved:    "¡Me alegro un montón! Cualquier otra cosa, acá estoy. ¡Que tengas un buen día!",
		msgClosedNoTicket:  "Dale, no hay problema. Si lo necesitás más adelante, podés retomar la conversación cuando quieras.",
		msgAskEmail:        "Para crear el ticket necesito un mail de contacto. ¿Cuál es tu dirección de correo?",
		msgAskEmailRetry:   "Ese mail no parece válido. Fijate que tenga el formato nombre@dominio.com y escribilo de nuevo.",
		msgAskPhone:        "¡Anotado! Ahora pasame un teléfono de contacto (con código de área).",
		msgAskPhoneRetry:   "Ese teléfono no parece válido. Escribilo de nuevo, solo números, con código de área.",
		msgTicketCreated:   "¡Listo! Creé el ticket %s. Un técnico se va a contactar con vos. Si querés seguir por WhatsApp, entrá acá: %s",
		msgHandoff:         "Te derivo con una persona del equipo que va a seguir tu caso. ¡Gracias por la paciencia!",
		msgRejected:        "No entendí esa respuesta. Elegí una de las opciones de abajo, por favor.",
		msgSafeRetry:       "Uy, algo salió mal de mi lado. ¿Probamos de nuevo?",
	},
	LocaleESES: {
		msgGreeting:        "¡Hola! Soy el asistente de STI Rosario. Elegí tu idioma / Elige tu idioma / Choose your language:",
		msgAskName:         "¡Perfecto! ¿Cómo te llamas? Si lo prefieres, puedes seguir sin decirme tu nombre.",
		msgAskNameRetry:    "No me ha quedado claro tu nombre. Escríbelo de nuevo (solo el nombre, sin números) o pulsa el botón para seguir sin nombre.",
		msgAskConsent:      "¡Encantado, %s! Antes de seguir necesito tu consentimiento para guardar los datos de esta conversación y poder ayudarte mejor.",
		msgAskConsentAnon:  "¡Perfecto! Antes de seguir necesito tu consentimiento para guardar los datos de esta conversación y poder ayudarte mejor.",
		msgAskNeed:         "¿En qué puedo ayudarte hoy?",
		msgDescribeProblem: "Cuéntame qué está pasando con tu equipo. Cuantos más detalles me des, mejor podré ayudarte.",
		msgDescribeTask:    "Cuéntame qué necesitas hacer y con qué programa o equipo, y vemos cómo enfocarlo.",
		msgAskDevice:       "¿Con qué equipo estás teniendo el problema? Dime la marca y el modelo si los sabes.",
		msgAssistIntro:     "Gracias por los datos. Probemos algunas cosas básicas: reinicia el equipo, comprueba que los cables estén bien conectados y cuéntame si cambia algo.",
		msgAssistContinue:  "Entiendo. Prueba los pasos que te he sugerido y dime cómo te ha ido, o elige una de las opciones.",
		msgAskResolved:     "¡Genial! ¿Con eso se ha solucionado el problema?",
		msgOfferTicket:     "Siento que siga sin funcionar. ¿Quieres que genere un ticket para que un técnico revise tu caso?",
		msgClosedSolved:    "¡Me alegro mucho! Para cualquier otra cosa, aquí estoy. ¡Que tengas un buen día!",
		msgClosedNoTicket:  "De acuerdo, sin problema. Si lo necesitas más adelante, puedes retomar la conversación cuando quieras.",
		msgAskEmail:        "Para crear el ticket necesito un correo de contacto. ¿Cuál es tu dirección?",
		msgAskEmailRetry:   "Ese correo no parece válido. Comprueba que tenga el formato nombre@dominio.com y escríbelo de nuevo.",
		msgAskPhone:        "¡Anotado! Ahora pásame un teléfono de contacto (con prefijo).",
		msgAskPhoneRetry:   "Ese teléfono no parece válido. Escríbelo de nuevo, solo números, con prefijo.",
		msgTicketCreated:   "¡Listo! He creado el ticket %s. Un técnico se pondrá en contacto contigo. Si quieres seguir por WhatsApp, entra aquí: %s",
		msgHandoff:         "Te paso con una persona del equipo que seguirá tu caso. ¡Gracias por la paciencia!",
		msgRejected:        "No he entendido esa respuesta. Elige una de las opciones de abajo, por favor.",
		msgSafeRetry:       "Vaya, algo ha salido mal por mi parte. ¿Lo intentamos de nuevo?",
	},
	LocaleEN: {
		msgGreeting:        "Hi! I'm the STI Rosario assistant. Elegí tu idioma / Elige tu idioma / Choose your language:",
		msgAskName:         "Great! What's your name? If you prefer, you can continue without telling me.",
		msgAskNameRetry:    "I didn't quite catch your name. Type it again (just the name, no numbers) or tap the button to continue without one.",
		msgAskConsent:      "Nice to meet you, %s! Before we continue I need your consent to store this conversation's data so I can help you better.",
		msgAskConsentAnon:  "Great! Before we continue I need your consent to store this conversation's data so I can help you better.",
		msgAskNeed:         "What can I help you with today?",
		msgDescribeProblem: "Tell me what's going on with your device. The more detail you give me, the better I can help.",
		msgDescribeTask:    "Tell me what you need to do and with which program or device, and we'll figure out how to approach it.",
		msgAskDevice:       "Which device is giving you trouble? Tell me the brand and model if you know them.",
		msgAssistIntro:     "Thanks for the details. Let's try some basics: restart the device, check that all cables are firmly connected, and tell me if anything changes.",
		msgAssistContinue:  "Got it. Try the steps I suggested and let me know how it goes, or pick one of the options.",
		msgAskResolved:     "Great! Did that solve the problem?",
		msgOfferTicket:     "Sorry it's still not working. Want me to create a ticket so a technician can look into your case?",
		msgClosedSolved:    "Glad to hear it! I'm here if you need anything else. Have a great day!",
		msgClosedNoTicket:  "No problem. If you need it later, you can reopen the conversation anytime.",
		msgAskEmail:        "To create the ticket I need a contact email. What's your address?",
		msgAskEmailRetry:   "That email doesn't look valid. Make sure it follows the name@domain.com format and type it again.",
		msgAskPhone:        "Got it! Now give me a contact phone number (with area code).",
		msgAskPhoneRetry:   "That phone number doesn't look valid. Type it again, digits only, with area code.",
		msgTicketCreated:   "Done! I created ticket %s. A technician will get in touch with you. If you'd like to continue over WhatsApp, tap here: %s",
		msgHandoff:         "I'm handing you over to a person on the team who will follow up on your case. Thanks for your patience!",
		msgRejected:        "I didn't understand that. Please pick one of the options below.",
		msgSafeRetry:       "Oops, something went wrong on my end. Shall we try again?",
	},
}

var labels = map[string]map[string]string{
	LocaleESAR: {
		contract.TokenLangESAR:      "Español (Argentina)",
		contract.TokenLangESES:      "Español (España)",
		contract.TokenLangEN:        "English",
		contract.TokenNoName:        "Prefiero no decirlo",
		contract.TokenConsentYes:    "Sí, acepto",
		contract.TokenConsentNo:     "No acepto",
		contract.TokenHelp:          "Tengo un problema técnico",
		contract.TokenTask:          "Necesito ayuda con una tarea",
		contract.TokenAgent:         "Hablar con una persona",
		contract.TokenDeviceUnknown: "No sé el modelo",
		contract.TokenTestsDone:     "Hice las pruebas",
		contract.TokenTestsFail:     "No puedo hacerlas",
		contract.TokenSolved:        "¡Se solucionó!",
		contract.TokenNotSolved:     "Sigue igual",
		contract.TokenYes:           "Sí, crear ticket",
		contract.TokenNo:            "No, gracias",
		contract.TokenReopen:        "Retomar la conversación",
	},
	LocaleESES: {
		contract.TokenLangESAR:      "Español (Argentina)",
		contract.TokenLangESES:      "Español (España)",
		contract.TokenLangEN:        "English",
		contract.TokenNoName:        "Prefiero no decirlo",
		contract.TokenConsentYes:    "Sí, acepto",
		contract.TokenConsentNo:     "No acepto",
		contract.TokenHelp:          "Tengo un problema técnico",
		contract.TokenTask:          "Necesito ayuda con una tarea",
		contract.TokenAgent:         "Hablar con una persona",
		contract.TokenDeviceUnknown: "No sé el modelo",
		contract.TokenTestsDone:     "He hecho las pruebas",
		contract.TokenTestsFail:     "No puedo hacerlas",
		contract.TokenSolved:        "¡Se ha solucionado!",
		contract.TokenNotSolved:     "Sigue igual",
		contract.TokenYes:           "Sí, crear ticket",
		contract.TokenNo:            "No, gracias",
		contract.TokenReopen:        "Retomar la conversación",
	},
	LocaleEN: {
		contract.TokenLangESAR:      "Español (Argentina)",
		contract.TokenLangESES:      "Español (España)",
		contract.TokenLangEN:        "English",
		contract.TokenNoName:        "I'd rather not say",
		contract.TokenConsentYes:    "Yes, I agree",
		contract.TokenConsentNo:     "No",
		contract.TokenHelp:          "I have a technical problem",
		contract.TokenTask:          "I need help with a task",
		contract.TokenAgent:         "Talk to a human",
		contract.TokenDeviceUnknown: "I don't know the model",
		contract.TokenTestsDone:     "I ran the tests",
		contract.TokenTestsFail:     "I can't run them",
		contract.TokenSolved:        "It's fixed!",
		contract.TokenNotSolved:     "Still broken",
		contract.TokenYes:           "Yes, create a ticket",
		contract.TokenNo:            "No, thanks",
		contract.TokenReopen:        "Reopen the conversation",
	},
}

// Catalog 提供按语言区域取回复文案和按钮标签的入口。
// 缺失的语言或键回退到默认语言，未知令牌以令牌本身作标签。
type Catalog struct {
	defaultLocale string
}

// NewCatalog 创建文案目录。defaultLocale 为空时用 es-AR。
func NewCatalog(defaultLocale string) *Catalog {
	if _, ok := replies[defaultLocale]; !ok {
		defaultLocale = LocaleESAR
	}
	return &Catalog{defaultLocale: defaultLocale}
}

// DefaultLocale 返回回退语言。
func (c *Catalog) DefaultLocale() string {
	return c.defaultLocale
}

func (c *Catalog) normalize(locale string) string {
	if _, ok := replies[locale]; ok {
		return locale
	}
	return c.defaultLocale
}

// Reply 取指定语言的回复文案，args 按 fmt.Sprintf 填入。
func (c *Catalog) Reply(locale, key string, args ...any) string {
	loc := c.normalize(locale)
	text, ok := replies[loc][key]
	if !ok {
		text = replies[c.defaultLocale][key]
	}
	if len(args) == 0 {
		return text
	}
	return fmt.Sprintf(text, args...)
}

// Label 取令牌在指定语言下的按钮标签。
func (c *Catalog) Label(locale, token string) string {
	loc := c.normalize(locale)
	if label, ok := labels[loc][token]; ok {
		return label
	}
	if label, ok := labels[c.defaultLocale][token]; ok {
		return label
	}
	return token
}

// Options 把令牌列表本地化成带标签的选项列表。
func (c *Catalog) Options(locale string, tokens []string) []model.Option {
	if len(tokens) == 0 {
		return nil
	}
	opts := make([]model.Option, 0, len(tokens))
	for _, token := range tokens {
		opts = append(opts, model.Option{Token: token, Label: c.Label(locale, token)})
	}
	return opts
}

// Greeting 是 NEW → ASK_LANGUAGE 开场转换的欢迎语（三语合一，未选语言前展示）。
func (c *Catalog) Greeting(locale string) string {
	return c.Reply(locale, msgGreeting)
}

// RejectedReply 是契约执法拒绝事件时返回用户的提示语。
func (c *Catalog) RejectedReply(locale string) string {
	return c.Reply(locale, msgRejected)
}

// SafeReply 是处理器失败后安全空转一轮的提示语。
func (c *Catalog) SafeReply(locale string) string {
	return c.Reply(locale, msgSafeRetry)
}
